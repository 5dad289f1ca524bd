package testing

import (
	"time"

	"github.com/aristath/marketd/internal/calendar"
	"github.com/aristath/marketd/internal/domain"
)

// NewStockFixtures returns a set of listed securities for use in tests.
func NewStockFixtures() []domain.StockBasicInfo {
	pufaListing := time.Date(1999, 11, 10, 0, 0, 0, 0, time.UTC)
	pinganListing := time.Date(1991, 4, 3, 0, 0, 0, 0, time.UTC)
	smicListing := time.Date(2020, 7, 16, 0, 0, 0, 0, time.UTC)
	bank := "银行"
	semi := "半导体"

	return []domain.StockBasicInfo{
		{
			Symbol:      "600000",
			Exchange:    domain.ExchangeSH,
			Section:     "沪市主板",
			StockType:   "A股",
			Name:        "浦发银行",
			ListingDate: &pufaListing,
			Industry:    &bank,
			LastUpdate:  time.Now().UTC(),
		},
		{
			Symbol:      "000001",
			Exchange:    domain.ExchangeSZ,
			Section:     "主板",
			StockType:   "A股",
			Name:        "平安银行",
			ListingDate: &pinganListing,
			Industry:    &bank,
			LastUpdate:  time.Now().UTC(),
		},
		{
			Symbol:      "688981",
			Exchange:    domain.ExchangeSH,
			Section:     "科创板",
			StockType:   "A股",
			Name:        "中芯国际",
			ListingDate: &smicListing,
			Industry:    &semi,
			LastUpdate:  time.Now().UTC(),
		},
	}
}

// NewBarFixtures builds one valid daily bar per trading day in
// [start, end] for the symbol, with deterministic prices derived from the
// day ordinal.
func NewBarFixtures(symbol string, start, end time.Time) []domain.DailyBar {
	days := calendar.TradingDaysBetween(start, end)
	bars := make([]domain.DailyBar, 0, len(days))
	for i, day := range days {
		base := 10.0 + float64(i)*0.1
		bars = append(bars, domain.DailyBar{
			Symbol:    symbol,
			TradeDate: day,
			Open:      base,
			Close:     base + 0.05,
			High:      base + 0.10,
			Low:       base - 0.10,
			Volume:    int64(1000000 + i*1000),
		})
	}
	return bars
}
