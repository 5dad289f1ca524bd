package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchange_Valid(t *testing.T) {
	assert.True(t, ExchangeSH.Valid())
	assert.True(t, ExchangeSZ.Valid())
	assert.True(t, ExchangeBJ.Valid())
	assert.False(t, Exchange("NYSE").Valid())
	assert.False(t, Exchange("").Valid())
}

func TestExchange_String(t *testing.T) {
	assert.Equal(t, "SH", ExchangeSH.String())
	assert.Equal(t, "SZ", ExchangeSZ.String())
	assert.Equal(t, "BJ", ExchangeBJ.String())
}

func TestDailyBar_Validate(t *testing.T) {
	valid := DailyBar{
		Symbol:    "600000",
		TradeDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Open:      7.13,
		Close:     7.15,
		High:      7.20,
		Low:       7.08,
		Volume:    29589300,
	}

	tests := []struct {
		name    string
		mutate  func(*DailyBar)
		wantErr string
	}{
		{
			name:   "valid bar",
			mutate: func(b *DailyBar) {},
		},
		{
			name:    "empty symbol",
			mutate:  func(b *DailyBar) { b.Symbol = "" },
			wantErr: "empty symbol",
		},
		{
			name:    "zero trade date",
			mutate:  func(b *DailyBar) { b.TradeDate = time.Time{} },
			wantErr: "zero trade date",
		},
		{
			name:    "non-positive price",
			mutate:  func(b *DailyBar) { b.Open = 0 },
			wantErr: "non-positive price",
		},
		{
			name:    "negative volume",
			mutate:  func(b *DailyBar) { b.Volume = -1 },
			wantErr: "negative volume",
		},
		{
			name:    "high below close",
			mutate:  func(b *DailyBar) { b.High = 7.10 },
			wantErr: "high",
		},
		{
			name:    "low above open",
			mutate:  func(b *DailyBar) { b.Low = 7.14 },
			wantErr: "low",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := valid
			tt.mutate(&bar)
			err := bar.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, IsKind(err, KindValidation))
		})
	}
}

func TestDailyBar_DateKey(t *testing.T) {
	bar := DailyBar{TradeDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "2024-01-02", bar.DateKey())
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("02/01/2024")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))

	_, err = ParseDate("")
	require.Error(t, err)
}

func TestFormatDate_RoundTrip(t *testing.T) {
	d := time.Date(1999, 11, 10, 0, 0, 0, 0, time.UTC)
	parsed, err := ParseDate(FormatDate(d))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(d))
}

func TestDateOnly(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	stamp := time.Date(2024, 1, 2, 15, 30, 45, 123, loc)
	day := DateOnly(stamp)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, loc), day)
	assert.Equal(t, loc, day.Location())
}

func TestNewPaginatedResult(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		pageSize  int
		wantPages int64
	}{
		{name: "exact fit", total: 100, pageSize: 20, wantPages: 5},
		{name: "partial last page", total: 101, pageSize: 20, wantPages: 6},
		{name: "single row", total: 1, pageSize: 20, wantPages: 1},
		{name: "empty", total: 0, pageSize: 20, wantPages: 0},
		{name: "zero page size", total: 100, pageSize: 0, wantPages: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewPaginatedResult([]string{"a"}, tt.total, 1, tt.pageSize)
			assert.Equal(t, tt.wantPages, result.TotalPages)
			assert.Equal(t, tt.total, result.Total)
			assert.Equal(t, 1, result.Page)
		})
	}
}

func TestStockBasicInfo_String(t *testing.T) {
	info := StockBasicInfo{Symbol: "600000", Exchange: ExchangeSH, Name: "浦发银行"}
	assert.Equal(t, "SH.600000 浦发银行", info.String())
}
