package fetcher

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket spreading a per-minute call budget over a
// 60s window. A nil limiter never blocks.
type RateLimiter struct {
	limiter *rate.Limiter
	qps     int
}

// NewRateLimiter allows qps calls per minute with burst capacity qps.
// Returns nil for qps <= 0 (unlimited).
func NewRateLimiter(qps int) *RateLimiter {
	if qps <= 0 {
		return nil
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(qps)/60.0), qps),
		qps:     qps,
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether a token is immediately available, consuming it.
func (l *RateLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// QPS returns the configured per-minute budget, 0 for unlimited.
func (l *RateLimiter) QPS() int {
	if l == nil {
		return 0
	}
	return l.qps
}

// Semaphore bounds concurrent calls. A nil semaphore never blocks.
type Semaphore struct {
	slots chan struct{}
	size  int
}

// NewSemaphore creates a semaphore with n slots. Returns nil for n <= 0
// (unlimited).
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		return nil
	}
	return &Semaphore{
		slots: make(chan struct{}, n),
		size:  n,
	}
}

// Acquire takes a slot, blocking until one frees or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (s *Semaphore) Release() {
	if s == nil {
		return
	}
	select {
	case <-s.slots:
	default:
		// Release without Acquire is a programming error; stay silent
		// rather than block.
	}
}

// Active returns the number of held slots.
func (s *Semaphore) Active() int {
	if s == nil {
		return 0
	}
	return len(s.slots)
}

// Size returns the slot count, 0 for unlimited.
func (s *Semaphore) Size() int {
	if s == nil {
		return 0
	}
	return s.size
}
