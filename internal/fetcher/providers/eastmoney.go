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
	eastmoneyName     = "eastmoney"
	eastmoneyUT       = "fa5fd1943c7b386f172d6893dbfba10b"
	eastmoneyKlineURL = "https://push2his.eastmoney.com/api/qt/stock/kline/get"
	eastmoneyQuoteURL = "https://push2.eastmoney.com/api/qt/stock/get"
)

// EastMoney serves forward-adjusted daily bars and per-symbol snapshots
// from the push2 quote API.
type EastMoney struct {
	klineURL string
	quoteURL string
	client   *http.Client
	log      zerolog.Logger
}

// NewEastMoney creates the eastmoney adapter.
func NewEastMoney(log zerolog.Logger) *EastMoney {
	return &EastMoney{
		klineURL: eastmoneyKlineURL,
		quoteURL: eastmoneyQuoteURL,
		client:   newHTTPClient(defaultTimeout),
		log:      log.With().Str("provider", eastmoneyName).Logger(),
	}
}

func (e *EastMoney) Name() string { return eastmoneyName }

// MethodSpecs declares routing weights and limits for the methods this
// adapter serves.
func (e *EastMoney) MethodSpecs() map[string]fetcher.MethodSpec {
	return map[string]fetcher.MethodSpec{
		fetcher.MethodFetchStockDailyData: {Weight: 1.2, QPS: 30, Concurrency: 5},
		fetcher.MethodGetStockBasicInfo:   {Weight: 1.2, QPS: 30, Concurrency: 5},
	}
}

// HealthCheck fetches today's bar for a liquid symbol. An empty kline list
// still counts as healthy; only transport or decode failures do not.
func (e *EastMoney) HealthCheck(ctx context.Context) bool {
	today := time.Now()
	if _, err := e.FetchStockDailyData(ctx, "600000", today, today); err != nil {
		e.log.Warn().Err(err).Msg("Health check failed")
		return false
	}
	return true
}

// secid prefixes the symbol with eastmoney's market id: 1 for Shanghai,
// 0 for Shenzhen and Beijing.
func secid(symbol string) string {
	if inferExchange(symbol) == domain.ExchangeSH {
		return "1." + symbol
	}
	return "0." + symbol
}

func (e *EastMoney) FetchStockDailyData(ctx context.Context, symbol string, start, end time.Time) ([]domain.DailyBar, error) {
	params := url.Values{
		"secid":   {secid(symbol)},
		"ut":      {eastmoneyUT},
		"fields1": {"f1,f2,f3,f4,f5,f6"},
		"fields2": {"f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61"},
		"klt":     {"101"},
		"fqt":     {"1"},
		"beg":     {start.Format("20060102")},
		"end":     {end.Format("20060102")},
	}

	var payload struct {
		Data struct {
			Code   string   `json:"code"`
			Klines []string `json:"klines"`
		} `json:"data"`
	}
	if err := getJSON(ctx, e.client, e.klineURL+"?"+params.Encode(), nil, &payload); err != nil {
		return nil, fmt.Errorf("eastmoney kline: %w", err)
	}

	bars, skipped, err := parseEastmoneyKlines(symbol, payload.Data.Klines)
	if err != nil {
		return nil, fmt.Errorf("eastmoney kline: %w", err)
	}
	if skipped > 0 {
		e.log.Warn().Str("symbol", symbol).Int("skipped", skipped).Msg("Dropped malformed kline rows")
	}
	e.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("Fetched daily bars")
	return bars, nil
}

// parseEastmoneyKlines decodes the comma-joined kline rows. Field order is
// date,open,close,high,low,volume,turnover,amplitude,pct,change,turnover_rate;
// volume arrives in lots of 100 shares. Rows that fail to parse or violate
// OHLC consistency are skipped; an entirely unparseable payload is an error.
func parseEastmoneyKlines(symbol string, klines []string) ([]domain.DailyBar, int, error) {
	bars := make([]domain.DailyBar, 0, len(klines))
	skipped := 0
	for _, line := range klines {
		fields := strings.Split(line, ",")
		if len(fields) < 11 {
			skipped++
			continue
		}

		date, err := domain.ParseDate(fields[0])
		if err != nil {
			skipped++
			continue
		}

		nums := make([]float64, 10)
		ok := true
		for i := 0; i < 10; i++ {
			nums[i], err = strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				ok = false
				break
			}
		}
		if !ok {
			skipped++
			continue
		}

		bar := domain.DailyBar{
			Symbol:       symbol,
			TradeDate:    date,
			Open:         nums[0],
			Close:        nums[1],
			High:         nums[2],
			Low:          nums[3],
			Volume:       int64(nums[4]) * 100, // lots to shares
			Turnover:     float64Ptr(nums[5]),
			Amplitude:    float64Ptr(nums[6]),
			ChangeRate:   float64Ptr(nums[7]),
			ChangeAmount: float64Ptr(nums[8]),
			TurnoverRate: float64Ptr(nums[9]),
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

func (e *EastMoney) GetStockBasicInfo(ctx context.Context, exchange domain.Exchange, symbol string) (*domain.StockBasicInfo, error) {
	id := "0." + symbol
	if exchange == domain.ExchangeSH {
		id = "1." + symbol
	}
	params := url.Values{
		"secid":  {id},
		"ut":     {eastmoneyUT},
		"fltt":   {"2"},
		"invt":   {"2"},
		"fields": {"f57,f58,f84,f85,f116,f117,f127,f189"},
	}

	var payload struct {
		Data *struct {
			Code        string   `json:"f57"`
			Name        string   `json:"f58"`
			TotalShares *float64 `json:"f84"`
			FloatShares *float64 `json:"f85"`
			TotalMV     *float64 `json:"f116"`
			FloatMV     *float64 `json:"f117"`
			Industry    string   `json:"f127"`
			ListingDate int      `json:"f189"`
		} `json:"data"`
	}
	if err := getJSON(ctx, e.client, e.quoteURL+"?"+params.Encode(), nil, &payload); err != nil {
		return nil, fmt.Errorf("eastmoney quote: %w", err)
	}
	if payload.Data == nil || payload.Data.Name == "" {
		e.log.Debug().Str("symbol", symbol).Msg("No quote data")
		return nil, nil
	}

	info := &domain.StockBasicInfo{
		Symbol:           symbol,
		Exchange:         exchange,
		Name:             payload.Data.Name,
		TotalShares:      payload.Data.TotalShares,
		FloatShares:      payload.Data.FloatShares,
		TotalMarketValue: payload.Data.TotalMV,
		FloatMarketValue: payload.Data.FloatMV,
	}
	if payload.Data.Industry != "" {
		industry := payload.Data.Industry
		info.Industry = &industry
	}
	if d, err := domain.ParseDate(compactDate(payload.Data.ListingDate)); err == nil {
		info.ListingDate = &d
	}
	return info, nil
}

// compactDate renders the quote API's YYYYMMDD integer as YYYY-MM-DD.
func compactDate(v int) string {
	s := strconv.Itoa(v)
	if len(s) != 8 {
		return ""
	}
	return s[:4] + "-" + s[4:6] + "-" + s[6:]
}
