package fetcher

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/aristath/marketd/internal/events"
)

func defaultRandFloat() float64 { return rand.Float64() }

// invoke routes one call of a logical method: select a registration, probe
// its provider if stale, then run the attempt loop under the registration's
// limits. do performs the actual typed call against the chosen provider.
func (r *Registry) invoke(ctx context.Context, method string, opts callOptions, do func(ctx context.Context, p Provider) error) error {
	reg, err := r.selectRegistration(ctx, method)
	if err != nil {
		return err
	}

	limiter := reg.limiter
	if opts.hasLim {
		limiter = opts.limiter
	}
	sem := reg.sem
	if opts.hasSem {
		sem = opts.sem
	}
	timeout := r.defaultTimeout
	if opts.timeout > 0 {
		timeout = opts.timeout
	}
	retries := DefaultRetries
	if opts.retries > 0 {
		retries = opts.retries
	}

	// A call is active from first attempt to final outcome, releasing
	// exactly once on every exit path.
	release := reg.beginCall()
	defer release()

	provider := reg.state.provider
	log := r.log.With().Str("provider", provider.Name()).Str("method", method).Logger()

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if ctx.Err() != nil {
			// Cancellation consumes no further attempts and never
			// updates the EMA.
			return ctx.Err()
		}

		err := r.attempt(ctx, timeout, limiter, sem, provider, do)
		if err == nil {
			reg.recordOutcome(true)
			r.observe(provider.Name(), method, true)
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("retries", retries).
			Msg("Provider call failed")

		// Backoff only between attempts; an exhausted call returns
		// immediately.
		if attempt < retries-1 {
			if err := r.sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		}
	}

	// Attempts exhausted: one EMA update and the provider leaves rotation
	// until its next lazy probe.
	reg.recordOutcome(false)
	r.observe(provider.Name(), method, false)
	r.markUnhealthy(reg.state, method, lastErr)

	return fmt.Errorf("%s via %s failed after %d attempts: %w", method, provider.Name(), retries, lastErr)
}

// attempt runs one try under the per-attempt timeout. The limiter is
// acquired before the semaphore; both waits count against the timeout, and
// the slot is always released.
func (r *Registry) attempt(ctx context.Context, timeout time.Duration, limiter *RateLimiter, sem *Semaphore, provider Provider, do func(ctx context.Context, p Provider) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := limiter.Wait(attemptCtx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if err := sem.Acquire(attemptCtx); err != nil {
		return fmt.Errorf("concurrency limit: %w", err)
	}
	defer sem.Release()

	return do(attemptCtx, provider)
}

// sleepBackoff waits min(0.2s * 2^attempt + jitter, 2s) or returns early on
// cancellation. Jitter is an additive uniform [0, 1s) draw.
func (r *Registry) sleepBackoff(ctx context.Context, attempt int) error {
	delay := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
	delay += time.Duration(r.randFloat() * float64(time.Second))
	if delay > maxBackoff {
		delay = maxBackoff
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// selectRegistration refreshes candidate health, filters to providers
// currently marked healthy, then picks one by weighted random over
// score = weight * success_rate * 1/(1+active).
func (r *Registry) selectRegistration(ctx context.Context, method string) (*registration, error) {
	regs := r.registrationsFor(method)
	if len(regs) == 0 {
		return nil, fmt.Errorf("%w: no implementations of %s", ErrNoProviderAvailable, method)
	}

	candidates := make([]*registration, 0, len(regs))
	for _, reg := range regs {
		if r.ensureRoutable(ctx, reg.state) {
			candidates = append(candidates, reg)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no healthy provider for %s", ErrNoProviderAvailable, method)
	}

	return candidates[r.pick(candidates)], nil
}

// pick returns the index chosen by weighted random; uniform when all
// scores are zero.
func (r *Registry) pick(candidates []*registration) int {
	scores := make([]float64, len(candidates))
	total := 0.0
	for i, reg := range candidates {
		scores[i] = reg.score()
		total += scores[i]
	}

	if total <= 0 {
		return int(r.randFloat() * float64(len(candidates))) % len(candidates)
	}

	draw := r.randFloat() * total
	running := 0.0
	for i := range candidates {
		running += scores[i]
		if draw < running {
			return i
		}
	}
	return len(candidates) - 1
}

// ensureRoutable reports whether a provider may serve the next call,
// probing it first when its last check is older than the health interval
// or it is currently marked unhealthy. A never-probed provider routes
// without a probe. Probes are serialized per provider.
func (r *Registry) ensureRoutable(ctx context.Context, state *providerState) bool {
	if !needsProbe(state) {
		return state.flagged()
	}

	state.probeMu.Lock()
	defer state.probeMu.Unlock()

	// Another caller may have probed while we waited.
	if !needsProbe(state) {
		return state.flagged()
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.defaultTimeout)
	ok := state.provider.HealthCheck(probeCtx)
	cancel()

	state.mu.Lock()
	state.healthy = ok
	state.lastCheck = time.Now()
	state.mu.Unlock()

	if ok {
		r.log.Debug().Str("provider", state.provider.Name()).Msg("Health probe passed")
	} else {
		r.log.Warn().Str("provider", state.provider.Name()).Msg("Health probe failed")
		r.publishUnhealthy(state.provider.Name(), "", "health probe failed")
	}
	return ok
}

// needsProbe applies the lazy probe rule: probe when marked unhealthy or
// when the last check is older than the interval. A zero lastCheck means
// the provider has never been probed and is trusted until then.
func needsProbe(state *providerState) bool {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.lastCheck.IsZero() {
		return false
	}
	return !state.healthy || time.Since(state.lastCheck) > healthCheckInterval
}

func (s *providerState) flagged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

// markUnhealthy takes a provider out of rotation after retry exhaustion.
func (r *Registry) markUnhealthy(state *providerState, method string, cause error) {
	state.mu.Lock()
	state.healthy = false
	state.lastCheck = time.Now()
	state.mu.Unlock()

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	r.log.Warn().
		Str("provider", state.provider.Name()).
		Str("method", method).
		Str("reason", reason).
		Msg("Provider marked unhealthy")
	r.publishUnhealthy(state.provider.Name(), method, reason)
}

func (r *Registry) publishUnhealthy(provider, method, reason string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.ProviderUnhealthy, &events.ProviderHealthData{
		Provider: provider,
		Method:   method,
		Reason:   reason,
	})
}

func (r *Registry) observe(provider, method string, ok bool) {
	if r.observer == nil {
		return
	}
	r.observer.ObserveFetcherCall(provider, method, ok)
}
