package daily

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/calendar"
	"github.com/aristath/marketd/internal/domain"
	"github.com/aristath/marketd/internal/fetcher"
)

// BarSource routes daily-bar fetches across upstream providers.
type BarSource interface {
	FetchStockDailyData(ctx context.Context, symbol string, start, end time.Time, opts ...fetcher.CallOption) ([]domain.DailyBar, error)
}

// Service answers daily-bar range queries from the cache, fetching only the
// trading-day ranges the cache is missing.
type Service struct {
	repo   *Repository
	source BarSource
	log    zerolog.Logger
}

// NewService creates the daily-bar cache service.
func NewService(repo *Repository, source BarSource, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		source: source,
		log:    log.With().Str("component", "daily_service").Logger(),
	}
}

// dateRange is one inclusive fetch window.
type dateRange struct {
	start time.Time
	end   time.Time
}

// GetDaily returns all bars for the stock within [start, end], adjusted to
// its listing date. Trading days absent from the cache are fetched through
// the router, persisted, and included in the result. Upstream failures are
// partial: the affected range is dropped and the rest is returned.
func (s *Service) GetDaily(ctx context.Context, stock *domain.StockBasicInfo, start, end time.Time) ([]domain.DailyBar, error) {
	if stock == nil || stock.Symbol == "" {
		return nil, domain.Validationf("stock is required")
	}
	start = domain.DateOnly(start)
	end = domain.DateOnly(end)
	if start.After(end) {
		return nil, domain.Validationf("start %s is after end %s", domain.FormatDate(start), domain.FormatDate(end))
	}

	effectiveStart := start
	if stock.ListingDate != nil {
		if listing := domain.DateOnly(*stock.ListingDate); listing.After(effectiveStart) {
			effectiveStart = listing
		}
	}
	if effectiveStart.After(end) {
		s.log.Warn().
			Str("symbol", stock.Symbol).
			Str("start", domain.FormatDate(start)).
			Str("end", domain.FormatDate(end)).
			Time("listing_date", effectiveStart).
			Msg("Requested range ends before listing date")
		return []domain.DailyBar{}, nil
	}

	cached, err := s.repo.Range(ctx, stock.Symbol, effectiveStart, end)
	if err != nil {
		return nil, err
	}

	ranges := missingRanges(cached, effectiveStart, end)
	if len(ranges) == 0 {
		s.log.Debug().
			Str("symbol", stock.Symbol).
			Int("bars", len(cached)).
			Msg("Cache satisfies request")
		return cached, nil
	}

	fetched := s.fetchRanges(ctx, stock.Symbol, ranges)

	merged := mergeBars(cached, fetched)
	if len(fetched) > 0 {
		if err := s.repo.UpsertMany(ctx, merged); err != nil {
			return nil, err
		}
	}
	return clipRange(merged, effectiveStart, end), nil
}

// RefreshToday pulls today's bar for the stock into the cache.
func (s *Service) RefreshToday(ctx context.Context, stock *domain.StockBasicInfo) error {
	sh := calendar.Today()
	today := time.Date(sh.Year(), sh.Month(), sh.Day(), 0, 0, 0, 0, time.UTC)
	_, err := s.GetDaily(ctx, stock, today, today)
	return err
}

// missingRanges determines which inclusive date windows must be fetched.
// With an empty cache the whole request is one window. Otherwise every
// trading day in [start, end] not present in the cache is missing, and
// consecutive calendar dates fold into one window.
func missingRanges(cached []domain.DailyBar, start, end time.Time) []dateRange {
	if len(cached) == 0 {
		return []dateRange{{start: start, end: end}}
	}

	have := make(map[string]struct{}, len(cached))
	for i := range cached {
		have[cached[i].DateKey()] = struct{}{}
	}

	var missing []time.Time
	for _, day := range calendar.TradingDaysBetween(start, end) {
		if _, ok := have[domain.FormatDate(day)]; !ok {
			missing = append(missing, day)
		}
	}
	return mergeConsecutive(missing)
}

// mergeConsecutive folds an ascending date list into inclusive windows,
// splitting wherever two dates are more than one calendar day apart.
func mergeConsecutive(dates []time.Time) []dateRange {
	if len(dates) == 0 {
		return nil
	}

	ranges := []dateRange{{start: dates[0], end: dates[0]}}
	for _, d := range dates[1:] {
		last := &ranges[len(ranges)-1]
		if d.Sub(last.end) == 24*time.Hour {
			last.end = d
			continue
		}
		ranges = append(ranges, dateRange{start: d, end: d})
	}
	return ranges
}

// fetchRanges pulls every window concurrently. A failed or empty window is
// logged and dropped; the remaining windows still contribute bars.
func (s *Service) fetchRanges(ctx context.Context, symbol string, ranges []dateRange) []domain.DailyBar {
	type rangeResult struct {
		window dateRange
		bars   []domain.DailyBar
		err    error
	}

	results := make(chan rangeResult, len(ranges))
	for _, window := range ranges {
		go func(window dateRange) {
			bars, err := s.source.FetchStockDailyData(ctx, symbol, window.start, window.end)
			results <- rangeResult{window: window, bars: bars, err: err}
		}(window)
	}

	var fetched []domain.DailyBar
	for i := 0; i < len(ranges); i++ {
		res := <-results
		switch {
		case res.err != nil:
			s.log.Warn().
				Err(res.err).
				Str("symbol", symbol).
				Str("start", domain.FormatDate(res.window.start)).
				Str("end", domain.FormatDate(res.window.end)).
				Msg("Range fetch failed, dropping range")
		case len(res.bars) == 0:
			s.log.Warn().
				Str("symbol", symbol).
				Str("start", domain.FormatDate(res.window.start)).
				Str("end", domain.FormatDate(res.window.end)).
				Msg("Range fetch returned no bars")
		default:
			s.log.Info().
				Str("symbol", symbol).
				Str("start", domain.FormatDate(res.window.start)).
				Str("end", domain.FormatDate(res.window.end)).
				Int("bars", len(res.bars)).
				Msg("Range fetched")
			fetched = append(fetched, res.bars...)
		}
	}
	return fetched
}

// mergeBars combines cached and fetched rows, ascending by date, keeping
// the first row seen for a date. Cached rows come first, so on a date
// collision the cached row wins.
func mergeBars(cached, fetched []domain.DailyBar) []domain.DailyBar {
	merged := make([]domain.DailyBar, 0, len(cached)+len(fetched))
	merged = append(merged, cached...)
	merged = append(merged, fetched...)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].TradeDate.Before(merged[j].TradeDate)
	})

	seen := make(map[string]struct{}, len(merged))
	deduped := merged[:0]
	for _, bar := range merged {
		key := bar.DateKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, bar)
	}
	return deduped
}

// clipRange keeps only bars dated within [start, end].
func clipRange(bars []domain.DailyBar, start, end time.Time) []domain.DailyBar {
	clipped := make([]domain.DailyBar, 0, len(bars))
	for _, bar := range bars {
		if bar.TradeDate.Before(start) || bar.TradeDate.After(end) {
			continue
		}
		clipped = append(clipped, bar)
	}
	return clipped
}
