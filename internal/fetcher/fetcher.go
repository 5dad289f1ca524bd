// Package fetcher routes market-data calls across multiple upstream
// providers with weighted selection, rate limits, retries and lazy health
// tracking.
package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/marketd/internal/domain"
)

// Logical method names. These are the keys of the routing table and the
// method names reported by Stat().
const (
	MethodFetchStockDailyData = "fetch_stock_daily_data"
	MethodGetStockBasicInfo   = "get_stock_basic_info"
	MethodGetExchangeSymbols  = "get_exchange_symbols"
	MethodFetchIndustryInfo   = "fetch_industry_info"
	MethodFetchIndustryCons   = "fetch_single_third_cons"
)

var (
	// ErrNoProviderAvailable - no healthy provider implements the method
	ErrNoProviderAvailable = errors.New("no provider available")
	// ErrDuplicateProvider - a provider with the same name is already registered
	ErrDuplicateProvider = errors.New("duplicate provider")
)

// Provider is an adapter to one upstream data source. Health state is owned
// by the registry; adapters only answer probes.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) bool
}

// DailyDataFetcher is implemented by providers that serve daily OHLCV bars.
type DailyDataFetcher interface {
	FetchStockDailyData(ctx context.Context, symbol string, start, end time.Time) ([]domain.DailyBar, error)
}

// BasicInfoFetcher is implemented by providers that serve per-symbol metadata.
type BasicInfoFetcher interface {
	GetStockBasicInfo(ctx context.Context, exchange domain.Exchange, symbol string) (*domain.StockBasicInfo, error)
}

// ExchangeSymbolsFetcher is implemented by providers that enumerate an
// exchange's listed symbols.
type ExchangeSymbolsFetcher interface {
	GetExchangeSymbols(ctx context.Context, exchange domain.Exchange) ([]domain.ExchangeSymbol, error)
}

// IndustryInfoFetcher is implemented by providers that serve the industry
// classification tree.
type IndustryInfoFetcher interface {
	FetchIndustryInfo(ctx context.Context) ([]domain.IndustryInfo, error)
}

// IndustryConsFetcher is implemented by providers that serve the
// constituents of one third-level industry.
type IndustryConsFetcher interface {
	FetchIndustryCons(ctx context.Context, industryCode string) ([]domain.IndustryMapping, error)
}

// StockInfoFetcher is the routed protocol. Bind returns a proxy implementing
// it; each proxy call selects one provider and dispatches under the
// registration's limits.
type StockInfoFetcher interface {
	FetchStockDailyData(ctx context.Context, symbol string, start, end time.Time, opts ...CallOption) ([]domain.DailyBar, error)
	GetStockBasicInfo(ctx context.Context, exchange domain.Exchange, symbol string, opts ...CallOption) (*domain.StockBasicInfo, error)
	GetExchangeSymbols(ctx context.Context, exchange domain.Exchange, opts ...CallOption) ([]domain.ExchangeSymbol, error)
	FetchIndustryInfo(ctx context.Context, opts ...CallOption) ([]domain.IndustryInfo, error)
	FetchIndustryCons(ctx context.Context, industryCode string, opts ...CallOption) ([]domain.IndustryMapping, error)
}

// MethodSpec declares routing parameters for one provider method.
// Zero QPS or Concurrency means unlimited.
type MethodSpec struct {
	Weight      float64
	QPS         int
	Concurrency int
}

// MethodSpecProvider lets an adapter declare specs for the methods it
// implements. CompleteRegistration reads them when materializing
// registrations; methods without a spec get DefaultMethodSpec.
type MethodSpecProvider interface {
	MethodSpecs() map[string]MethodSpec
}

// DefaultMethodSpec applies when an adapter declares no spec for a method.
var DefaultMethodSpec = MethodSpec{Weight: 1.0}

// Routing defaults.
const (
	DefaultRetries = 10
	DefaultTimeout = 10 * time.Second

	healthCheckInterval = 300 * time.Second
	emaAlpha            = 0.2
	initialBackoff      = 200 * time.Millisecond
	maxBackoff          = 2 * time.Second
)

// CallOption overrides registration defaults for a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout  time.Duration
	retries  int
	limiter  *RateLimiter
	sem      *Semaphore
	hasLim   bool
	hasSem   bool
}

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithRetries overrides the attempt budget.
func WithRetries(n int) CallOption {
	return func(o *callOptions) { o.retries = n }
}

// WithLimiter replaces the registration's QPS limiter for this call.
// Pass nil to lift the limit.
func WithLimiter(l *RateLimiter) CallOption {
	return func(o *callOptions) { o.limiter = l; o.hasLim = true }
}

// WithSemaphore replaces the registration's concurrency semaphore for this
// call. Pass nil to lift the limit.
func WithSemaphore(s *Semaphore) CallOption {
	return func(o *callOptions) { o.sem = s; o.hasSem = true }
}

func buildCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
