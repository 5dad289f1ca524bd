package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/domain"
	"github.com/aristath/marketd/internal/fetcher"
)

const (
	sinaName     = "sina"
	sinaKlineURL = "https://money.finance.sina.com.cn/quotes_service/api/json_v2.php/CN_MarketDataService.getKLineData"

	// The upstream serves at most this many rows per request.
	sinaMaxRows = 1023
)

// Sina serves daily bars from the sina kline endpoint. The upstream carries
// only date, OHLC and volume; the remaining canonical columns are
// zero-filled.
type Sina struct {
	klineURL string
	client   *http.Client
	log      zerolog.Logger
}

// NewSina creates the sina adapter.
func NewSina(log zerolog.Logger) *Sina {
	return &Sina{
		klineURL: sinaKlineURL,
		client:   newHTTPClient(defaultTimeout),
		log:      log.With().Str("provider", sinaName).Logger(),
	}
}

func (s *Sina) Name() string { return sinaName }

func (s *Sina) MethodSpecs() map[string]fetcher.MethodSpec {
	return map[string]fetcher.MethodSpec{
		fetcher.MethodFetchStockDailyData: {Weight: 1.2, QPS: 30, Concurrency: 5},
	}
}

// HealthCheck fetches today's bar for a liquid symbol.
func (s *Sina) HealthCheck(ctx context.Context) bool {
	today := time.Now()
	if _, err := s.FetchStockDailyData(ctx, "600000", today, today); err != nil {
		s.log.Warn().Err(err).Msg("Health check failed")
		return false
	}
	return true
}

// sinaSymbol prefixes the bare code with the lowercase exchange id,
// e.g. sh600000.
func sinaSymbol(symbol string) string {
	return strings.ToLower(inferExchange(symbol).String()) + symbol
}

type sinaKlineRow struct {
	Day    string `json:"day"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

func (s *Sina) FetchStockDailyData(ctx context.Context, symbol string, start, end time.Time) ([]domain.DailyBar, error) {
	// The endpoint pages backwards from the latest bar, so request enough
	// rows to cover the range and filter client-side.
	span := int(end.Sub(start).Hours()/24) + 5
	if span < 1 {
		span = 1
	}
	if span > sinaMaxRows {
		span = sinaMaxRows
	}

	params := url.Values{
		"symbol":  {sinaSymbol(symbol)},
		"scale":   {"240"},
		"ma":      {"no"},
		"datalen": {strconv.Itoa(span)},
	}

	var rows []sinaKlineRow
	if err := getJSON(ctx, s.client, s.klineURL+"?"+params.Encode(), nil, &rows); err != nil {
		return nil, fmt.Errorf("sina kline: %w", err)
	}

	bars, skipped, err := parseSinaKlines(symbol, rows, start, end)
	if err != nil {
		return nil, fmt.Errorf("sina kline: %w", err)
	}
	if skipped > 0 {
		s.log.Warn().Str("symbol", symbol).Int("skipped", skipped).Msg("Dropped malformed kline rows")
	}
	s.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("Fetched daily bars")
	return bars, nil
}

// parseSinaKlines converts the string-typed rows, keeping only dates inside
// [start, end]. Columns the upstream does not serve are zero-filled the way
// the canonical schema expects.
func parseSinaKlines(symbol string, rows []sinaKlineRow, start, end time.Time) ([]domain.DailyBar, int, error) {
	startKey := domain.FormatDate(start)
	endKey := domain.FormatDate(end)

	bars := make([]domain.DailyBar, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		// Some payloads carry a time component on the day field.
		dayKey := row.Day
		if len(dayKey) > len(domain.DateLayout) {
			dayKey = dayKey[:len(domain.DateLayout)]
		}
		if dayKey < startKey || dayKey > endKey {
			continue
		}

		date, err := domain.ParseDate(dayKey)
		if err != nil {
			skipped++
			continue
		}

		open, err1 := strconv.ParseFloat(row.Open, 64)
		high, err2 := strconv.ParseFloat(row.High, 64)
		low, err3 := strconv.ParseFloat(row.Low, 64)
		cls, err4 := strconv.ParseFloat(row.Close, 64)
		vol, err5 := strconv.ParseFloat(row.Volume, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			skipped++
			continue
		}

		bar := domain.DailyBar{
			Symbol:       symbol,
			TradeDate:    date,
			Open:         open,
			Close:        cls,
			High:         high,
			Low:          low,
			Volume:       int64(vol),
			Turnover:     float64Ptr(0),
			Amplitude:    float64Ptr(0),
			ChangeRate:   float64Ptr(0),
			ChangeAmount: float64Ptr(0),
			TurnoverRate: float64Ptr(0),
		}
		if err := bar.Validate(); err != nil {
			skipped++
			continue
		}
		bars = append(bars, bar)
	}

	if len(bars) == 0 && skipped > 0 {
		return nil, skipped, fmt.Errorf("all %d kline rows malformed", skipped)
	}
	return bars, skipped, nil
}
