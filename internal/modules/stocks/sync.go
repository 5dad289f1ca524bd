package stocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/domain"
	"github.com/aristath/marketd/internal/fetcher"
)

// syncWorkers bounds concurrent per-symbol upstream calls during a refresh.
const syncWorkers = 10

// industryLeafLevel is the Shenwan level whose constituents carry the
// symbol-to-industry mappings.
const industryLeafLevel = 3

// MetadataSource is the slice of the routed fetcher protocol the sync
// pipeline needs.
type MetadataSource interface {
	GetExchangeSymbols(ctx context.Context, exchange domain.Exchange, opts ...fetcher.CallOption) ([]domain.ExchangeSymbol, error)
	GetStockBasicInfo(ctx context.Context, exchange domain.Exchange, symbol string, opts ...fetcher.CallOption) (*domain.StockBasicInfo, error)
	FetchIndustryInfo(ctx context.Context, opts ...fetcher.CallOption) ([]domain.IndustryInfo, error)
	FetchIndustryCons(ctx context.Context, industryCode string, opts ...fetcher.CallOption) ([]domain.IndustryMapping, error)
}

// DailyRefresher pulls the current trading day's bars for one stock.
type DailyRefresher interface {
	RefreshToday(ctx context.Context, stock *domain.StockBasicInfo) error
}

// SyncService refreshes stock metadata, daily bars and the industry
// classification from the upstream providers. The scheduler's built-in jobs
// call into it.
type SyncService struct {
	stocks     *StockRepository
	industries *IndustryRepository
	source     MetadataSource
	daily      DailyRefresher
	log        zerolog.Logger
}

// NewSyncService creates a sync service.
func NewSyncService(
	stocks *StockRepository,
	industries *IndustryRepository,
	source MetadataSource,
	daily DailyRefresher,
	log zerolog.Logger,
) *SyncService {
	return &SyncService{
		stocks:     stocks,
		industries: industries,
		source:     source,
		daily:      daily,
		log:        log.With().Str("component", "stock_sync").Logger(),
	}
}

// RefreshBasicInfo enumerates every exchange's listings, fetches per-symbol
// detail and upserts the result. Enumeration failures drop that exchange;
// per-symbol failures drop that symbol. Returns processed and failed symbol
// counts.
func (s *SyncService) RefreshBasicInfo(ctx context.Context) (int, int, error) {
	s.log.Info().Msg("Starting stock basic info refresh")

	var listings []domain.ExchangeSymbol
	var lastErr error
	enumerated := 0
	for _, exchange := range domain.Exchanges {
		symbols, err := s.source.GetExchangeSymbols(ctx, exchange)
		if err != nil {
			s.log.Error().Err(err).Str("exchange", string(exchange)).Msg("Exchange enumeration failed")
			lastErr = err
			continue
		}
		enumerated++
		listings = append(listings, symbols...)
	}
	if enumerated == 0 {
		return 0, 0, fmt.Errorf("failed to enumerate exchanges: %w", lastErr)
	}

	s.log.Info().Int("symbols", len(listings)).Msg("Exchange listings enumerated")

	var (
		mu        sync.Mutex
		infos     []domain.StockBasicInfo
		processed int
		failed    int
	)

	jobs := make(chan domain.ExchangeSymbol)
	var wg sync.WaitGroup
	for i := 0; i < syncWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for listing := range jobs {
				info, err := s.source.GetStockBasicInfo(ctx, listing.Exchange, listing.Symbol)
				if err != nil {
					s.log.Warn().Err(err).Str("symbol", listing.Symbol).Msg("Basic info fetch failed")
					mu.Lock()
					failed++
					mu.Unlock()
					continue
				}
				if info == nil {
					continue
				}
				// The detail payload lacks the listing's board and share
				// class, so carry them over from the enumeration.
				info.StockType = listing.StockType
				info.Section = listing.Section

				mu.Lock()
				infos = append(infos, *info)
				processed++
				mu.Unlock()
			}
		}()
	}

feed:
	for _, listing := range listings {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- listing:
		}
	}
	close(jobs)
	wg.Wait()

	if len(infos) > 0 {
		if err := s.stocks.UpsertMany(ctx, infos); err != nil {
			return processed, failed, err
		}
	}

	s.log.Info().
		Int("processed", processed).
		Int("failed", failed).
		Msg("Stock basic info refresh complete")
	return processed, failed, nil
}

// RefreshDailyBars pulls the current trading day's bars for every stored
// stock. Per-stock failures are logged and counted, never fatal.
func (s *SyncService) RefreshDailyBars(ctx context.Context) (int, int, error) {
	stocks, err := s.stocks.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list stocks: %w", err)
	}
	if len(stocks) == 0 {
		s.log.Info().Msg("No stocks stored, nothing to refresh")
		return 0, 0, nil
	}

	s.log.Info().Int("stocks", len(stocks)).Msg("Starting daily bar refresh")

	var (
		mu        sync.Mutex
		processed int
		failed    int
	)

	jobs := make(chan domain.StockBasicInfo)
	var wg sync.WaitGroup
	for i := 0; i < syncWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for stock := range jobs {
				if err := s.daily.RefreshToday(ctx, &stock); err != nil {
					s.log.Warn().Err(err).Str("symbol", stock.Symbol).Msg("Daily refresh failed")
					mu.Lock()
					failed++
					mu.Unlock()
					continue
				}
				mu.Lock()
				processed++
				mu.Unlock()
			}
		}()
	}

feed:
	for _, stock := range stocks {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- stock:
		}
	}
	close(jobs)
	wg.Wait()

	s.log.Info().
		Int("processed", processed).
		Int("failed", failed).
		Msg("Daily bar refresh complete")
	return processed, failed, nil
}

// RefreshIndustries fetches the Shenwan classification tree, upserts it,
// then walks the leaf industries to rebuild the symbol mappings.
// Constituents for symbols not yet in stock_basic_info are dropped so the
// mapping references stay valid.
func (s *SyncService) RefreshIndustries(ctx context.Context) error {
	s.log.Info().Msg("Starting industry classification refresh")

	tree, err := s.source.FetchIndustryInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch industry tree: %w", err)
	}
	if len(tree) == 0 {
		s.log.Warn().Msg("Industry tree fetch returned nothing")
		return nil
	}

	if err := s.industries.UpsertIndustries(ctx, tree); err != nil {
		return err
	}

	symbols, err := s.stocks.Symbols(ctx)
	if err != nil {
		return fmt.Errorf("failed to list symbols: %w", err)
	}
	known := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		known[sym] = struct{}{}
	}

	var mappings []domain.IndustryMapping
	unknown := 0
	for _, node := range tree {
		if node.Level != industryLeafLevel {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		cons, err := s.source.FetchIndustryCons(ctx, node.IndustryCode)
		if err != nil {
			s.log.Warn().Err(err).Str("industry", node.IndustryCode).Msg("Constituent fetch failed")
			continue
		}
		for _, m := range cons {
			if _, ok := known[m.Symbol]; !ok {
				unknown++
				continue
			}
			mappings = append(mappings, m)
		}
	}
	if unknown > 0 {
		s.log.Debug().Int("dropped", unknown).Msg("Dropped constituents for unknown symbols")
	}

	if err := s.industries.UpsertMappings(ctx, mappings); err != nil {
		return err
	}

	s.log.Info().
		Int("industries", len(tree)).
		Int("mappings", len(mappings)).
		Msg("Industry classification refresh complete")
	return nil
}
