// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"time"
)

// Exchange identifies a mainland China stock exchange
type Exchange string

const (
	// ExchangeSH - Shanghai Stock Exchange
	ExchangeSH Exchange = "SH"
	// ExchangeSZ - Shenzhen Stock Exchange
	ExchangeSZ Exchange = "SZ"
	// ExchangeBJ - Beijing Stock Exchange
	ExchangeBJ Exchange = "BJ"
)

// Exchanges lists all supported exchanges in enumeration order.
var Exchanges = []Exchange{ExchangeSH, ExchangeSZ, ExchangeBJ}

// Valid reports whether the exchange is one of the supported venues.
func (e Exchange) Valid() bool {
	switch e {
	case ExchangeSH, ExchangeSZ, ExchangeBJ:
		return true
	}
	return false
}

// String returns the exchange id, e.g. "SH".
func (e Exchange) String() string {
	return string(e)
}

// DateLayout is the canonical wire and storage format for trade dates.
const DateLayout = "2006-01-02"

// DailyBar is one canonical OHLCV row for a symbol at a trade date.
// Prices are in CNY, volume in shares (not lots).
type DailyBar struct {
	Symbol       string    `json:"symbol"`
	TradeDate    time.Time `json:"trade_date"`
	Open         float64   `json:"open"`
	Close        float64   `json:"close"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Volume       int64     `json:"volume"`
	Turnover     *float64  `json:"turnover,omitempty"`
	Amplitude    *float64  `json:"amplitude,omitempty"`
	ChangeRate   *float64  `json:"change_rate,omitempty"`
	ChangeAmount *float64  `json:"change_amount,omitempty"`
	TurnoverRate *float64  `json:"turnover_rate,omitempty"`
}

// Validate checks the OHLCV price relations.
func (b *DailyBar) Validate() error {
	if b.Symbol == "" {
		return Validationf("daily bar has empty symbol")
	}
	if b.TradeDate.IsZero() {
		return Validationf("daily bar %s has zero trade date", b.Symbol)
	}
	if b.Open <= 0 || b.Close <= 0 || b.High <= 0 || b.Low <= 0 {
		return Validationf("daily bar %s %s has non-positive price", b.Symbol, b.TradeDate.Format(DateLayout))
	}
	if b.Volume < 0 {
		return Validationf("daily bar %s %s has negative volume", b.Symbol, b.TradeDate.Format(DateLayout))
	}
	if b.High < b.Open || b.High < b.Close || b.High < b.Low {
		return Validationf("daily bar %s %s: high %.4f below open/close/low", b.Symbol, b.TradeDate.Format(DateLayout), b.High)
	}
	if b.Low > b.Open || b.Low > b.Close || b.Low > b.High {
		return Validationf("daily bar %s %s: low %.4f above open/close/high", b.Symbol, b.TradeDate.Format(DateLayout), b.Low)
	}
	return nil
}

// DateKey returns the bar's trade date in storage format.
func (b *DailyBar) DateKey() string {
	return b.TradeDate.Format(DateLayout)
}

// StockBasicInfo is the metadata record for one listed security.
type StockBasicInfo struct {
	Symbol           string     `json:"symbol"`
	Exchange         Exchange   `json:"exchange"`
	Section          string     `json:"section,omitempty"`
	StockType        string     `json:"stock_type,omitempty"`
	Name             string     `json:"name"`
	ListingDate      *time.Time `json:"listing_date,omitempty"`
	Industry         *string    `json:"industry,omitempty"`
	TotalShares      *float64   `json:"total_shares,omitempty"`
	FloatShares      *float64   `json:"float_shares,omitempty"`
	TotalMarketValue *float64   `json:"total_market_value,omitempty"`
	FloatMarketValue *float64   `json:"float_market_value,omitempty"`
	LastUpdate       time.Time  `json:"last_update"`
}

// ExchangeSymbol is one row of an exchange's listing enumeration.
type ExchangeSymbol struct {
	Exchange  Exchange `json:"exchange"`
	Symbol    string   `json:"symbol"`
	Name      string   `json:"name"`
	Section   string   `json:"section,omitempty"`
	StockType string   `json:"stock_type,omitempty"`
}

// IndustryInfo is one node of the industry classification tree.
type IndustryInfo struct {
	IndustryCode string  `json:"industry_code"`
	Name         string  `json:"name"`
	Level        int     `json:"level"`
	ParentCode   *string `json:"parent_code,omitempty"`
}

// IndustryMapping links a symbol to an industry code.
type IndustryMapping struct {
	Symbol       string `json:"symbol"`
	IndustryCode string `json:"industry_code"`
	IsMain       bool   `json:"is_main"`
}

// PaginatedResult is the common shape for paged listings.
type PaginatedResult[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int64 `json:"total_pages"`
}

// NewPaginatedResult computes total_pages from the count and page size.
func NewPaginatedResult[T any](items []T, total int64, page, pageSize int) PaginatedResult[T] {
	totalPages := int64(0)
	if pageSize > 0 {
		totalPages = (total + int64(pageSize) - 1) / int64(pageSize)
	}
	return PaginatedResult[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}

// ParseDate parses a canonical yyyy-mm-dd date string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, Validationf("invalid date %q: expected %s", s, DateLayout)
	}
	return t, nil
}

// FormatDate renders t in the canonical storage format.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// String implements fmt.Stringer for log output.
func (s *StockBasicInfo) String() string {
	return fmt.Sprintf("%s.%s %s", s.Exchange, s.Symbol, s.Name)
}
