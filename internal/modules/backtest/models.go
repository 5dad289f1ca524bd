// Package backtest runs signal-driven strategy backtests over cached daily
// bars and persists their results.
package backtest

import (
	"time"

	"github.com/aristath/marketd/internal/domain"
)

// TradeType labels one side of a backtest trade.
type TradeType string

const (
	// TradeBuy - entered a position
	TradeBuy TradeType = "BUY"
	// TradeSell - exited a position
	TradeSell TradeType = "SELL"
	// TradeHold - no position change; used as a batch signal placeholder
	TradeHold TradeType = "HOLD"
)

// Trade is one executed backtest order.
type Trade struct {
	TradeDate   time.Time `json:"trade_date"`
	Type        TradeType `json:"type"`
	Price       float64   `json:"price"`
	Shares      int64     `json:"shares"`
	Commission  float64   `json:"commission"`
	MarketValue float64   `json:"market_value"`
	CashBalance float64   `json:"cash_balance"`
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Date        time.Time `json:"date"`
	Equity      float64   `json:"equity"`
	DrawdownPct float64   `json:"drawdown_pct"`
}

// ChartPoint is one bar of the chart payload, carrying the combined signal
// alongside the OHLCV values.
type ChartPoint struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
	Signal float64   `json:"signal"`
}

// Stats summarizes one backtest run.
type Stats struct {
	InitialCapital   float64 `json:"initial_capital"`
	FinalCapital     float64 `json:"final_capital"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	WinRate          float64 `json:"win_rate"`
	TradeCount       int     `json:"trade_count"`
}

// Result is one persisted backtest run.
type Result struct {
	ID              string         `json:"id"`
	StockCode       string         `json:"stock_code"`
	StockName       string         `json:"stock_name"`
	StartDate       time.Time      `json:"start_date"`
	EndDate         time.Time      `json:"end_date"`
	DurationSeconds float64        `json:"duration_seconds"`
	Stats           Stats          `json:"stats"`
	Strategies      []StrategySpec `json:"strategies"`
	Trades          []Trade        `json:"trades"`
	EquityCurve     []EquityPoint  `json:"equity_curve"`
	ChartData       []ChartPoint   `json:"chart_data"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Summary is the list-row view of a result, without the bulky JSON columns.
type Summary struct {
	ID          string    `json:"id"`
	StockCode   string    `json:"stock_code"`
	StockName   string    `json:"stock_name"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	TotalReturn float64   `json:"total_return"`
	TradeCount  int       `json:"trade_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Request is one backtest invocation.
type Request struct {
	StockCode  string         `json:"stockCode"`
	StartDate  string         `json:"startDate"`
	EndDate    string         `json:"endDate"`
	Strategies []StrategySpec `json:"strategies"`
}

// Validate checks the request shape. Strategy weights must be non-negative
// because the signal combiner assumes non-negative scores.
func (r *Request) Validate() (start, end time.Time, err error) {
	if r.StockCode == "" {
		return start, end, domain.Validationf("stockCode is required")
	}
	start, err = domain.ParseDate(r.StartDate)
	if err != nil {
		return start, end, err
	}
	end, err = domain.ParseDate(r.EndDate)
	if err != nil {
		return start, end, err
	}
	if !start.Before(end) {
		return start, end, domain.Validationf("startDate %s must be before endDate %s", r.StartDate, r.EndDate)
	}
	if len(r.Strategies) == 0 {
		return start, end, domain.Validationf("at least one strategy is required")
	}
	for _, spec := range r.Strategies {
		if err := spec.Validate(); err != nil {
			return start, end, err
		}
	}
	return start, end, nil
}

// BatchItem is one row of a batch backtest response.
type BatchItem struct {
	StockCode   string    `json:"stockCode"`
	BacktestID  string    `json:"backtestId"`
	TotalReturn float64   `json:"return"`
	SignalType  TradeType `json:"signalType"`
	BuyCount    int       `json:"buyCount"`
	SellCount   int       `json:"sellCount"`
}
