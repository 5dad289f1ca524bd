package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/marketd/internal/domain"
)

const (
	initialCapital = 100_000.0
	buyThreshold   = 0.5
	sellThreshold  = -0.5

	commissionRate = 0.00025
	commissionMin  = 5.0

	lotSize     = 100
	tradingDays = 252
)

func commission(amount float64) float64 {
	c := amount * commissionRate
	if c < commissionMin {
		c = commissionMin
	}
	return c
}

// runEngine simulates an all-in/all-out position over the bars using the
// combined signal series. Any open position is liquidated on the last bar.
func runEngine(bars []domain.DailyBar, combined []float64) (Stats, []Trade, []EquityPoint, []ChartPoint) {
	cash := initialCapital
	var shares int64
	var trades []Trade
	equity := make([]EquityPoint, 0, len(bars))
	chart := make([]ChartPoint, 0, len(bars))

	peak := initialCapital
	maxDrawdown := 0.0
	var lastBuyCost float64
	wins, roundTrips := 0, 0

	for i, bar := range bars {
		price := bar.Close
		signal := combined[i]
		lastBar := i == len(bars)-1
		forceExit := lastBar && shares > 0

		// Entering on the final bar would leave an unliquidated position.
		if shares == 0 && signal > buyThreshold && !lastBar {
			lots := int64(cash / (price * lotSize))
			if lots > 0 {
				// Size so the commission fits in the remaining cash.
				for lots > 0 {
					amount := float64(lots*lotSize) * price
					if amount+commission(amount) <= cash {
						break
					}
					lots--
				}
			}
			if lots > 0 {
				shares = lots * lotSize
				amount := float64(shares) * price
				fee := commission(amount)
				cash -= amount + fee
				lastBuyCost = amount + fee
				trades = append(trades, Trade{
					TradeDate:   bar.TradeDate,
					Type:        TradeBuy,
					Price:       price,
					Shares:      shares,
					Commission:  fee,
					MarketValue: amount,
					CashBalance: cash,
				})
			}
		} else if shares > 0 && (signal < sellThreshold || forceExit) {
			amount := float64(shares) * price
			fee := commission(amount)
			cash += amount - fee
			trades = append(trades, Trade{
				TradeDate:   bar.TradeDate,
				Type:        TradeSell,
				Price:       price,
				Shares:      shares,
				Commission:  fee,
				MarketValue: amount,
				CashBalance: cash,
			})
			roundTrips++
			if amount-fee > lastBuyCost {
				wins++
			}
			shares = 0
		}

		value := cash + float64(shares)*price
		if value > peak {
			peak = value
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - value) / peak
		}
		if dd > maxDrawdown {
			maxDrawdown = dd
		}
		equity = append(equity, EquityPoint{Date: bar.TradeDate, Equity: value, DrawdownPct: dd})
		chart = append(chart, ChartPoint{
			Date:   bar.TradeDate,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: bar.Volume,
			Signal: signal,
		})
	}

	final := cash
	stats := Stats{
		InitialCapital: initialCapital,
		FinalCapital:   final,
		TotalReturn:    final/initialCapital - 1,
		MaxDrawdown:    maxDrawdown,
		TradeCount:     len(trades),
	}
	if n := len(equity); n > 1 {
		years := float64(n) / tradingDays
		if stats.TotalReturn > -1 && years > 0 {
			stats.AnnualizedReturn = math.Pow(1+stats.TotalReturn, 1/years) - 1
		}
		stats.SharpeRatio = sharpe(equity)
	}
	if roundTrips > 0 {
		stats.WinRate = float64(wins) / float64(roundTrips)
	}
	return stats, trades, equity, chart
}

// sharpe is the annualized Sharpe ratio of the daily equity returns with a
// zero risk-free rate.
func sharpe(equity []EquityPoint) float64 {
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, equity[i].Equity/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	sd := stat.StdDev(returns, nil)
	if sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(tradingDays)
}
