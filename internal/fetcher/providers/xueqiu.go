package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/calendar"
	"github.com/aristath/marketd/internal/domain"
	"github.com/aristath/marketd/internal/fetcher"
)

const (
	xueqiuName     = "xueqiu"
	xueqiuHomeURL  = "https://xueqiu.com/"
	xueqiuKlineURL = "https://stock.xueqiu.com/v5/stock/chart/kline.json"
	xueqiuQuoteURL = "https://stock.xueqiu.com/v5/stock/quote.json"
)

// XueQiu serves daily bars and quote snapshots. The API requires session
// cookies, obtained by priming a request against the home page before the
// first data call.
type XueQiu struct {
	homeURL  string
	klineURL string
	quoteURL string
	client   *http.Client
	log      zerolog.Logger

	mu     sync.Mutex
	primed bool
}

// NewXueQiu creates the xueqiu adapter with a cookie-holding client.
func NewXueQiu(log zerolog.Logger) *XueQiu {
	jar, _ := cookiejar.New(nil)
	client := newHTTPClient(defaultTimeout)
	client.Jar = jar
	return &XueQiu{
		homeURL:  xueqiuHomeURL,
		klineURL: xueqiuKlineURL,
		quoteURL: xueqiuQuoteURL,
		client:   client,
		log:      log.With().Str("provider", xueqiuName).Logger(),
	}
}

func (x *XueQiu) Name() string { return xueqiuName }

func (x *XueQiu) MethodSpecs() map[string]fetcher.MethodSpec {
	return map[string]fetcher.MethodSpec{
		fetcher.MethodFetchStockDailyData: {Weight: 1.2, QPS: 30, Concurrency: 5},
		fetcher.MethodGetStockBasicInfo:   {Weight: 1.2, QPS: 30, Concurrency: 5},
	}
}

// HealthCheck fetches the quote snapshot for a liquid symbol.
func (x *XueQiu) HealthCheck(ctx context.Context) bool {
	if _, err := x.GetStockBasicInfo(ctx, domain.ExchangeSH, "600000"); err != nil {
		x.log.Warn().Err(err).Msg("Health check failed")
		return false
	}
	return true
}

// ensureCookies performs the priming request once per adapter lifetime.
func (x *XueQiu) ensureCookies(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.primed {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.homeURL, nil)
	if err != nil {
		return fmt.Errorf("build priming request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := x.client.Do(req)
	if err != nil {
		return fmt.Errorf("cookie priming failed: %w", err)
	}
	resp.Body.Close()

	x.primed = true
	x.log.Debug().Msg("Session cookies primed")
	return nil
}

// xueqiuSymbol renders EXCHANGE+code uppercase, e.g. SH600000.
func xueqiuSymbol(exchange domain.Exchange, symbol string) string {
	return exchange.String() + symbol
}

func (x *XueQiu) FetchStockDailyData(ctx context.Context, symbol string, start, end time.Time) ([]domain.DailyBar, error) {
	if err := x.ensureCookies(ctx); err != nil {
		return nil, err
	}

	// The kline endpoint pages backwards from begin, so ask for everything
	// before the day after end and filter client-side.
	span := int(end.Sub(start).Hours()/24) + 5
	if span < 1 {
		span = 1
	}
	begin := domain.DateOnly(end).AddDate(0, 0, 1).UnixMilli()

	params := url.Values{
		"symbol":    {xueqiuSymbol(inferExchange(symbol), symbol)},
		"begin":     {strconv.FormatInt(begin, 10)},
		"period":    {"day"},
		"type":      {"before"},
		"count":     {"-" + strconv.Itoa(span)},
		"indicator": {"kline"},
	}

	var payload struct {
		Data struct {
			Symbol string  `json:"symbol"`
			Column []string `json:"column"`
			Item   [][]any `json:"item"`
		} `json:"data"`
		ErrorCode int    `json:"error_code"`
		ErrorDesc string `json:"error_description"`
	}
	if err := getJSON(ctx, x.client, x.klineURL+"?"+params.Encode(), nil, &payload); err != nil {
		return nil, fmt.Errorf("xueqiu kline: %w", err)
	}
	if payload.ErrorCode != 0 {
		return nil, fmt.Errorf("xueqiu kline: upstream error %d: %s", payload.ErrorCode, payload.ErrorDesc)
	}

	bars, skipped, err := parseXueqiuKline(symbol, payload.Data.Column, payload.Data.Item, start, end)
	if err != nil {
		return nil, fmt.Errorf("xueqiu kline: %w", err)
	}
	if skipped > 0 {
		x.log.Warn().Str("symbol", symbol).Int("skipped", skipped).Msg("Dropped malformed kline rows")
	}
	x.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("Fetched daily bars")
	return bars, nil
}

// parseXueqiuKline maps the column-indexed rows to daily bars. Timestamps
// are epoch milliseconds and are localized to the exchange calendar before
// being reduced to dates; volume is already in shares.
func parseXueqiuKline(symbol string, columns []string, items [][]any, start, end time.Time) ([]domain.DailyBar, int, error) {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	for _, required := range []string{"timestamp", "open", "close", "high", "low", "volume"} {
		if _, ok := idx[required]; !ok {
			return nil, 0, fmt.Errorf("column %s missing from payload", required)
		}
	}

	cell := func(row []any, name string) (float64, bool) {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return 0, false
		}
		v, ok := row[i].(float64)
		return v, ok
	}

	startKey := domain.FormatDate(start)
	endKey := domain.FormatDate(end)

	bars := make([]domain.DailyBar, 0, len(items))
	skipped := 0
	for _, row := range items {
		ts, ok := cell(row, "timestamp")
		if !ok {
			skipped++
			continue
		}
		local := time.UnixMilli(int64(ts)).In(calendar.Location())
		date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

		key := domain.FormatDate(date)
		if key < startKey || key > endKey {
			continue
		}

		open, ok1 := cell(row, "open")
		cls, ok2 := cell(row, "close")
		high, ok3 := cell(row, "high")
		low, ok4 := cell(row, "low")
		vol, ok5 := cell(row, "volume")
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
			skipped++
			continue
		}

		bar := domain.DailyBar{
			Symbol:    symbol,
			TradeDate: date,
			Open:      open,
			Close:     cls,
			High:      high,
			Low:       low,
			Volume:    int64(vol),
		}
		if v, ok := cell(row, "amount"); ok {
			bar.Turnover = float64Ptr(v)
		}
		if v, ok := cell(row, "percent"); ok {
			bar.ChangeRate = float64Ptr(v)
		}
		if v, ok := cell(row, "chg"); ok {
			bar.ChangeAmount = float64Ptr(v)
		}
		if v, ok := cell(row, "turnoverrate"); ok {
			bar.TurnoverRate = float64Ptr(v)
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

func (x *XueQiu) GetStockBasicInfo(ctx context.Context, exchange domain.Exchange, symbol string) (*domain.StockBasicInfo, error) {
	if err := x.ensureCookies(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"symbol": {xueqiuSymbol(exchange, symbol)},
		"extend": {"detail"},
	}

	var payload struct {
		Data struct {
			Quote *struct {
				Code        string   `json:"code"`
				Name        string   `json:"name"`
				IssueDate   *int64   `json:"issue_date"`
				TotalShares *float64 `json:"total_shares"`
				FloatShares *float64 `json:"float_shares"`
				MarketCap   *float64 `json:"market_capital"`
				FloatCap    *float64 `json:"float_market_capital"`
				Industry    string   `json:"industry"`
			} `json:"quote"`
		} `json:"data"`
		ErrorCode int    `json:"error_code"`
		ErrorDesc string `json:"error_description"`
	}
	if err := getJSON(ctx, x.client, x.quoteURL+"?"+params.Encode(), nil, &payload); err != nil {
		return nil, fmt.Errorf("xueqiu quote: %w", err)
	}
	if payload.ErrorCode != 0 {
		return nil, fmt.Errorf("xueqiu quote: upstream error %d: %s", payload.ErrorCode, payload.ErrorDesc)
	}

	quote := payload.Data.Quote
	if quote == nil || quote.Name == "" {
		x.log.Debug().Str("symbol", symbol).Msg("No quote data")
		return nil, nil
	}

	info := &domain.StockBasicInfo{
		Symbol:           symbol,
		Exchange:         exchange,
		Name:             quote.Name,
		TotalShares:      quote.TotalShares,
		FloatShares:      quote.FloatShares,
		TotalMarketValue: quote.MarketCap,
		FloatMarketValue: quote.FloatCap,
	}
	if quote.Industry != "" {
		industry := quote.Industry
		info.Industry = &industry
	}
	if quote.IssueDate != nil {
		local := time.UnixMilli(*quote.IssueDate).In(calendar.Location())
		d := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		info.ListingDate = &d
	}
	return info, nil
}
