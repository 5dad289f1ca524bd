package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketd/internal/domain"
)

func TestSecid(t *testing.T) {
	assert.Equal(t, "1.600000", secid("600000"))
	assert.Equal(t, "1.688981", secid("688981"))
	assert.Equal(t, "0.000001", secid("000001"))
	assert.Equal(t, "0.430047", secid("430047"))
	assert.Equal(t, "0.920099", secid("920099"))
}

func TestCompactDate(t *testing.T) {
	assert.Equal(t, "1999-11-10", compactDate(19991110))
	assert.Equal(t, "2024-01-02", compactDate(20240102))
	assert.Equal(t, "", compactDate(0))
	assert.Equal(t, "", compactDate(1999))
}

func TestParseEastmoneyKlines(t *testing.T) {
	lines := []string{
		"2024-01-02,7.13,7.15,7.20,7.08,295893,211364000.5,1.69,0.28,0.02,0.67",
		"2024-01-03,7.15,7.10,7.18,7.05,301442,215000000.0,1.82,-0.70,-0.05,0.68",
	}

	bars, skipped, err := parseEastmoneyKlines("600000", lines)
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	require.Len(t, bars, 2)

	first := bars[0]
	assert.Equal(t, "600000", first.Symbol)
	assert.Equal(t, "2024-01-02", domain.FormatDate(first.TradeDate))
	assert.Equal(t, 7.13, first.Open)
	assert.Equal(t, 7.15, first.Close)
	assert.Equal(t, 7.20, first.High)
	assert.Equal(t, 7.08, first.Low)
	assert.Equal(t, int64(29589300), first.Volume, "lots converted to shares")
	require.NotNil(t, first.Turnover)
	assert.Equal(t, 211364000.5, *first.Turnover)
	require.NotNil(t, first.ChangeRate)
	assert.Equal(t, 0.28, *first.ChangeRate)
	require.NotNil(t, first.TurnoverRate)
	assert.Equal(t, 0.67, *first.TurnoverRate)
}

func TestParseEastmoneyKlines_SkipsMalformedRows(t *testing.T) {
	lines := []string{
		"2024-01-02,7.13,7.15,7.20,7.08,295893,211364000.5,1.69,0.28,0.02,0.67",
		"garbage",
		"2024-01-03,notanumber,7.10,7.18,7.05,301442,215000000.0,1.82,-0.70,-0.05,0.68",
	}

	bars, skipped, err := parseEastmoneyKlines("600000", lines)
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	assert.Len(t, bars, 1)
}

func TestParseEastmoneyKlines_AllMalformed(t *testing.T) {
	_, _, err := parseEastmoneyKlines("600000", []string{"x", "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestParseEastmoneyKlines_Empty(t *testing.T) {
	bars, skipped, err := parseEastmoneyKlines("600000", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	assert.Empty(t, bars)
}

func TestEastMoney_FetchStockDailyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1.600000", r.URL.Query().Get("secid"))
		assert.Equal(t, "101", r.URL.Query().Get("klt"))
		assert.Equal(t, "1", r.URL.Query().Get("fqt"))
		assert.Equal(t, "20240102", r.URL.Query().Get("beg"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"code":"600000","klines":[
			"2024-01-02,7.13,7.15,7.20,7.08,295893,211364000.5,1.69,0.28,0.02,0.67"
		]}}`))
	}))
	defer srv.Close()

	em := NewEastMoney(zerolog.Nop())
	em.klineURL = srv.URL

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars, err := em.FetchStockDailyData(context.Background(), "600000", start, start)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, int64(29589300), bars[0].Volume)
}

func TestEastMoney_GetStockBasicInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1.600000", r.URL.Query().Get("secid"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"f57":"600000","f58":"浦发银行","f84":29352080397,
			"f85":29260011862,"f116":250000000000,"f117":248000000000,
			"f127":"银行","f189":19991110}}`))
	}))
	defer srv.Close()

	em := NewEastMoney(zerolog.Nop())
	em.quoteURL = srv.URL

	info, err := em.GetStockBasicInfo(context.Background(), domain.ExchangeSH, "600000")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "浦发银行", info.Name)
	assert.Equal(t, domain.ExchangeSH, info.Exchange)
	require.NotNil(t, info.Industry)
	assert.Equal(t, "银行", *info.Industry)
	require.NotNil(t, info.ListingDate)
	assert.Equal(t, "1999-11-10", domain.FormatDate(*info.ListingDate))
	require.NotNil(t, info.TotalShares)
	assert.Equal(t, float64(29352080397), *info.TotalShares)
}

func TestEastMoney_GetStockBasicInfo_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":null}`))
	}))
	defer srv.Close()

	em := NewEastMoney(zerolog.Nop())
	em.quoteURL = srv.URL

	info, err := em.GetStockBasicInfo(context.Background(), domain.ExchangeSH, "600000")
	require.NoError(t, err)
	assert.Nil(t, info)
}
