package fetcher

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/marketd/internal/events"
	"github.com/rs/zerolog"
)

// CallObserver receives one observation per routed call outcome.
// Implemented by the metrics package.
type CallObserver interface {
	ObserveFetcherCall(provider, method string, ok bool)
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Log            zerolog.Logger
	DefaultTimeout time.Duration // Per-attempt timeout when no override is given
	Bus            *events.Bus   // Optional event bus for health notifications
	Observer       CallObserver  // Optional per-call metrics hook
}

// Registry owns providers, their health state, and the routing table.
// Construct it once at startup, register providers, then call
// CompleteRegistration before Bind.
type Registry struct {
	log            zerolog.Logger
	defaultTimeout time.Duration
	bus            *events.Bus
	observer       CallObserver

	mu        sync.RWMutex
	providers map[string]*providerState
	methods   map[string][]*registration
	completed bool

	// randFloat is swappable for deterministic selection tests.
	randFloat func() float64
}

// providerState tracks the registry-owned health of one provider.
type providerState struct {
	provider Provider

	mu        sync.Mutex
	healthy   bool
	lastCheck time.Time // zero value means never probed

	// probeMu serializes health probes so concurrent callers hitting a
	// stale provider trigger a single check.
	probeMu sync.Mutex
}

// registration binds one provider's implementation of a method, plus its
// limits and runtime counters.
type registration struct {
	state  *providerState
	method string
	spec   MethodSpec

	limiter *RateLimiter
	sem     *Semaphore

	mu          sync.Mutex
	active      int
	callCount   int64
	errorCount  int64
	successRate float64
	lastCall    time.Time
}

// protocolBinding maps a logical method name to the capability check used
// by CompleteRegistration.
var protocolBindings = []struct {
	method     string
	implements func(Provider) bool
}{
	{MethodFetchStockDailyData, func(p Provider) bool { _, ok := p.(DailyDataFetcher); return ok }},
	{MethodGetStockBasicInfo, func(p Provider) bool { _, ok := p.(BasicInfoFetcher); return ok }},
	{MethodGetExchangeSymbols, func(p Provider) bool { _, ok := p.(ExchangeSymbolsFetcher); return ok }},
	{MethodFetchIndustryInfo, func(p Provider) bool { _, ok := p.(IndustryInfoFetcher); return ok }},
	{MethodFetchIndustryCons, func(p Provider) bool { _, ok := p.(IndustryConsFetcher); return ok }},
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	return &Registry{
		log:            cfg.Log.With().Str("component", "fetcher").Logger(),
		defaultTimeout: cfg.DefaultTimeout,
		bus:            cfg.Bus,
		observer:       cfg.Observer,
		providers:      make(map[string]*providerState),
		methods:        make(map[string][]*registration),
		randFloat:      defaultRandFloat,
	}
}

// RegisterProvider adds a provider. Registration is idempotent by name:
// re-registering the same name fails with ErrDuplicateProvider.
func (r *Registry) RegisterProvider(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, name)
	}

	r.providers[name] = &providerState{
		provider: p,
		healthy:  true, // Never-probed providers route until the first lazy probe says otherwise
	}
	r.completed = false

	r.log.Info().Str("provider", name).Msg("Provider registered")
	return nil
}

// CompleteRegistration walks all registered providers and materializes one
// registration per (provider, implemented method), applying the provider's
// declared MethodSpecs. Idempotent; rebuilds the routing table from scratch.
func (r *Registry) CompleteRegistration() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	methods := make(map[string][]*registration)

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		state := r.providers[name]

		var specs map[string]MethodSpec
		if sp, ok := state.provider.(MethodSpecProvider); ok {
			specs = sp.MethodSpecs()
		}

		for _, binding := range protocolBindings {
			if !binding.implements(state.provider) {
				continue
			}

			spec := DefaultMethodSpec
			if declared, ok := specs[binding.method]; ok {
				spec = declared
			}
			if spec.Weight < 0 {
				return fmt.Errorf("provider %s method %s: negative weight %.3f", name, binding.method, spec.Weight)
			}
			if spec.Weight == 0 {
				spec.Weight = DefaultMethodSpec.Weight
			}

			reg := &registration{
				state:       state,
				method:      binding.method,
				spec:        spec,
				limiter:     NewRateLimiter(spec.QPS),
				sem:         NewSemaphore(spec.Concurrency),
				successRate: 1.0,
			}
			methods[binding.method] = append(methods[binding.method], reg)

			r.log.Debug().
				Str("provider", name).
				Str("method", binding.method).
				Float64("weight", spec.Weight).
				Int("qps", spec.QPS).
				Int("concurrency", spec.Concurrency).
				Msg("Method registered")
		}
	}

	r.methods = methods
	r.completed = true
	return nil
}

// Bind returns a proxy implementing StockInfoFetcher over this registry.
func (r *Registry) Bind() StockInfoFetcher {
	r.mu.RLock()
	if !r.completed {
		r.log.Warn().Msg("Bind called before CompleteRegistration; calls will fail until the routing table is built")
	}
	r.mu.RUnlock()
	return &proxy{reg: r}
}

// Completed reports whether the routing table reflects every registered
// provider.
func (r *Registry) Completed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completed
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// registrationsFor snapshots the routing table entry for a method.
func (r *Registry) registrationsFor(method string) []*registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := r.methods[method]
	out := make([]*registration, len(regs))
	copy(out, regs)
	return out
}

// beginCall increments the active counter and returns a release token that
// decrements exactly once no matter how the call exits.
func (reg *registration) beginCall() func() {
	reg.mu.Lock()
	reg.active++
	reg.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			reg.mu.Lock()
			reg.active--
			reg.mu.Unlock()
		})
	}
}

// recordOutcome folds one final call outcome into the EMA and counters.
// Intermediate retry failures never reach here.
func (reg *registration) recordOutcome(ok bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.callCount++
	if !ok {
		reg.errorCount++
	}

	outcome := 0.0
	if ok {
		outcome = 1.0
	}
	reg.successRate = (1-emaAlpha)*reg.successRate + emaAlpha*outcome
	reg.lastCall = time.Now()
}

// score computes weight * success_rate * 1/(1+active) under the
// registration's own lock.
func (reg *registration) score() float64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.spec.Weight * reg.successRate * (1.0 / (1.0 + float64(reg.active)))
}

func (reg *registration) snapshot() MethodStat {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	stat := MethodStat{
		DataSource:      reg.state.provider.Name(),
		ActiveTasks:     reg.active,
		CallCount:       reg.callCount,
		ErrorCount:      reg.errorCount,
		SuccessRate:     reg.successRate,
		Weight:          reg.spec.Weight,
		QPSLimit:        reg.spec.QPS,
		ConcurrentLimit: reg.spec.Concurrency,
	}
	if !reg.lastCall.IsZero() {
		t := reg.lastCall
		stat.LastCallTime = &t
	}
	return stat
}

// ProviderStat is one provider's health snapshot.
type ProviderStat struct {
	IsHealthy     bool       `json:"is_healthy"`
	LastCheckTime *time.Time `json:"last_check_time"`
}

// MethodStat is one registration's runtime snapshot.
type MethodStat struct {
	DataSource      string     `json:"data_source"`
	ActiveTasks     int        `json:"active_tasks"`
	CallCount       int64      `json:"call_count"`
	ErrorCount      int64      `json:"error_count"`
	SuccessRate     float64    `json:"success_rate"`
	LastCallTime    *time.Time `json:"last_call_time"`
	Weight          float64    `json:"weight"`
	QPSLimit        int        `json:"qps_limit"`
	ConcurrentLimit int        `json:"concurrent_limit"`
}

// Stat is the full observability snapshot returned by Registry.Stat.
type Stat struct {
	DataSources map[string]ProviderStat `json:"data_sources"`
	Methods     map[string][]MethodStat `json:"methods"`
}

// Stat snapshots provider health and per-registration counters.
func (r *Registry) Stat() Stat {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := Stat{
		DataSources: make(map[string]ProviderStat, len(r.providers)),
		Methods:     make(map[string][]MethodStat, len(r.methods)),
	}

	for name, state := range r.providers {
		state.mu.Lock()
		ps := ProviderStat{IsHealthy: state.healthy}
		if !state.lastCheck.IsZero() {
			t := state.lastCheck
			ps.LastCheckTime = &t
		}
		state.mu.Unlock()
		out.DataSources[name] = ps
	}

	for method, regs := range r.methods {
		stats := make([]MethodStat, 0, len(regs))
		for _, reg := range regs {
			stats = append(stats, reg.snapshot())
		}
		out.Methods[method] = stats
	}

	return out
}
