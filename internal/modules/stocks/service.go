package stocks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/domain"
)

// Service answers metadata queries over the stock and industry
// repositories.
type Service struct {
	stocks     *StockRepository
	industries *IndustryRepository
	log        zerolog.Logger
}

// NewService creates a stock metadata service.
func NewService(stocks *StockRepository, industries *IndustryRepository, log zerolog.Logger) *Service {
	return &Service{
		stocks:     stocks,
		industries: industries,
		log:        log.With().Str("component", "stock_service").Logger(),
	}
}

// List returns all stored stock records.
func (s *Service) List(ctx context.Context) ([]domain.StockBasicInfo, error) {
	return s.stocks.List(ctx)
}

// Filter validates req and returns the matching records.
func (s *Service) Filter(ctx context.Context, req FilterRequest) ([]domain.StockBasicInfo, error) {
	for _, ex := range req.Exchanges {
		if !domain.Exchange(ex).Valid() {
			return nil, domain.Validationf("unknown exchange %q", ex)
		}
	}
	if req.StartListingDate != "" {
		if _, err := domain.ParseDate(req.StartListingDate); err != nil {
			return nil, domain.Validationf("invalid start_listing_date %q", req.StartListingDate)
		}
	}
	if req.EndListingDate != "" {
		if _, err := domain.ParseDate(req.EndListingDate); err != nil {
			return nil, domain.Validationf("invalid end_listing_date %q", req.EndListingDate)
		}
	}
	if req.StartListingDate != "" && req.EndListingDate != "" && req.StartListingDate > req.EndListingDate {
		return nil, domain.Validationf("start_listing_date %s is after end_listing_date %s", req.StartListingDate, req.EndListingDate)
	}
	if req.MinMarketCap != nil && req.MaxMarketCap != nil && *req.MinMarketCap > *req.MaxMarketCap {
		return nil, domain.Validationf("min_market_cap exceeds max_market_cap")
	}

	return s.stocks.Filter(ctx, req)
}

// FilterOptions returns the distinct values selectable in a filter.
func (s *Service) FilterOptions(ctx context.Context) (FilterOptions, error) {
	return s.stocks.FilterOptions(ctx)
}

// GetBySymbol returns one stock record or a not-found error.
func (s *Service) GetBySymbol(ctx context.Context, symbol string) (*domain.StockBasicInfo, error) {
	if symbol == "" {
		return nil, domain.Validationf("symbol is required")
	}
	info, err := s.stocks.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, domain.NotFoundf("stock with identifier '%s' not found", symbol)
	}
	return info, nil
}

// IndustryTree returns the classification tree as a level-ordered list.
func (s *Service) IndustryTree(ctx context.Context) ([]domain.IndustryInfo, error) {
	return s.industries.Tree(ctx)
}

// IndustriesFor returns the industries a symbol belongs to.
func (s *Service) IndustriesFor(ctx context.Context, symbol string) ([]domain.IndustryInfo, error) {
	if symbol == "" {
		return nil, domain.Validationf("symbol is required")
	}
	return s.industries.ForSymbol(ctx, symbol)
}
