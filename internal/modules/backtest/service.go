package backtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/domain"
	"github.com/aristath/marketd/internal/events"
)

// batchConcurrency bounds the simultaneous runs of a batch backtest.
const batchConcurrency = 50

// StockLookup resolves symbols against the local stock universe.
type StockLookup interface {
	GetBySymbol(ctx context.Context, symbol string) (*domain.StockBasicInfo, error)
}

// BarProvider serves daily bars, fetching missing ranges upstream.
type BarProvider interface {
	GetDaily(ctx context.Context, stock *domain.StockBasicInfo, start, end time.Time) ([]domain.DailyBar, error)
}

// Service runs backtests and persists their results.
type Service struct {
	repo   *Repository
	stocks StockLookup
	bars   BarProvider
	bus    *events.Bus
	log    zerolog.Logger
}

// NewService creates a backtest service.
func NewService(repo *Repository, stocks StockLookup, bars BarProvider, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		stocks: stocks,
		bars:   bars,
		bus:    bus,
		log:    log.With().Str("component", "backtest_service").Logger(),
	}
}

// Backtest runs one request, stores the result, and publishes a
// BacktestCompleted event. A symbol outside the local universe is a business
// error rather than a not-found, because the route itself exists.
func (s *Service) Backtest(ctx context.Context, req *Request) (*Result, error) {
	start, end, err := req.Validate()
	if err != nil {
		return nil, err
	}

	stock, err := s.stocks.GetBySymbol(ctx, req.StockCode)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, domain.Businessf("stock %s is not in the local universe", req.StockCode)
		}
		return nil, err
	}

	bars, err := s.bars.GetDaily(ctx, stock, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, domain.Businessf("no trading data for %s between %s and %s",
			req.StockCode, req.StartDate, req.EndDate)
	}

	began := time.Now()
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}

	signals := make([][]float64, len(req.Strategies))
	for i, spec := range req.Strategies {
		strat, err := newStrategy(spec)
		if err != nil {
			return nil, err
		}
		signals[i] = strat.Signals(closes)
	}
	combined := combineSignals(req.Strategies, signals, len(bars))
	stats, trades, equity, chart := runEngine(bars, combined)

	result := &Result{
		ID:              uuid.NewString(),
		StockCode:       stock.Symbol,
		StockName:       stock.Name,
		StartDate:       start,
		EndDate:         end,
		DurationSeconds: time.Since(began).Seconds(),
		Stats:           stats,
		Strategies:      req.Strategies,
		Trades:          trades,
		EquityCurve:     equity,
		ChartData:       chart,
		CreatedAt:       time.Now(),
	}
	if err := s.repo.Insert(ctx, result); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("id", result.ID).
		Str("symbol", result.StockCode).
		Float64("return", stats.TotalReturn).
		Int("trades", stats.TradeCount).
		Msg("Backtest completed")

	if s.bus != nil {
		s.bus.Publish(events.BacktestCompleted, &events.BacktestCompletedData{
			ID:        result.ID,
			StockCode: result.StockCode,
			Return:    stats.TotalReturn,
		})
	}
	return result, nil
}

// BatchRequest runs the same strategies over several symbols.
type BatchRequest struct {
	StockCodes []string       `json:"stockCodes"`
	StartDate  string         `json:"startDate"`
	EndDate    string         `json:"endDate"`
	Strategies []StrategySpec `json:"strategies"`
}

// BacktestBatch fans the request out over the symbols under a concurrency
// bound. Per-symbol failures are logged and skipped so one bad symbol does
// not sink the batch; an empty result set means every symbol failed.
func (s *Service) BacktestBatch(ctx context.Context, req *BatchRequest) ([]BatchItem, error) {
	if len(req.StockCodes) == 0 {
		return nil, domain.Validationf("stockCodes is required")
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		slots = make(chan struct{}, batchConcurrency)
		items = make([]BatchItem, 0, len(req.StockCodes))
	)
	for _, code := range req.StockCodes {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			select {
			case slots <- struct{}{}:
				defer func() { <-slots }()
			case <-ctx.Done():
				return
			}

			result, err := s.Backtest(ctx, &Request{
				StockCode:  code,
				StartDate:  req.StartDate,
				EndDate:    req.EndDate,
				Strategies: req.Strategies,
			})
			if err != nil {
				s.log.Warn().Err(err).Str("symbol", code).Msg("Batch backtest item failed")
				return
			}

			mu.Lock()
			items = append(items, summarizeBatchItem(result))
			mu.Unlock()
		}(code)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// GetResult returns one stored run by id.
func (s *Service) GetResult(ctx context.Context, id string) (*Result, error) {
	if id == "" {
		return nil, domain.Validationf("backtest id is required")
	}
	return s.repo.GetByID(ctx, id)
}

// ListResults returns stored run summaries, newest first.
func (s *Service) ListResults(ctx context.Context, page, pageSize int, keyword string) (domain.PaginatedResult[Summary], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return s.repo.ListPaged(ctx, page, pageSize, keyword)
}

// summarizeBatchItem derives the batch row for one run. The signal type is
// the side of the last trade when it fell on the final bar, HOLD otherwise.
func summarizeBatchItem(result *Result) BatchItem {
	item := BatchItem{
		StockCode:   result.StockCode,
		BacktestID:  result.ID,
		TotalReturn: result.Stats.TotalReturn,
		SignalType:  TradeHold,
	}
	for _, trade := range result.Trades {
		switch trade.Type {
		case TradeBuy:
			item.BuyCount++
		case TradeSell:
			item.SellCount++
		}
	}
	if n := len(result.Trades); n > 0 {
		last := result.Trades[n-1]
		if last.TradeDate.Equal(result.EndDate) || len(result.ChartData) > 0 &&
			last.TradeDate.Equal(result.ChartData[len(result.ChartData)-1].Date) {
			item.SignalType = last.Type
		}
	}
	return item
}
