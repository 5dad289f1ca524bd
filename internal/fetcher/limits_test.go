package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter_ZeroMeansUnlimited(t *testing.T) {
	var l *RateLimiter

	l = NewRateLimiter(0)
	assert.Nil(t, l)

	l = NewRateLimiter(-5)
	assert.Nil(t, l)

	// Nil limiters never block or refuse.
	require.NoError(t, l.Wait(context.Background()))
	assert.True(t, l.Allow())
	assert.Equal(t, 0, l.QPS())
}

func TestRateLimiter_BurstMatchesWindowBudget(t *testing.T) {
	l := NewRateLimiter(30)
	require.NotNil(t, l)
	assert.Equal(t, 30, l.QPS())

	// The full per-minute budget is available up front.
	for i := 0; i < 30; i++ {
		require.True(t, l.Allow(), "token %d should be available", i)
	}
	assert.False(t, l.Allow(), "budget exhausted")
}

func TestRateLimiter_WaitHonorsContext(t *testing.T) {
	l := NewRateLimiter(1)
	require.NotNil(t, l)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	assert.Error(t, err, "second token needs a minute to refill")
}

func TestNewSemaphore_ZeroMeansUnlimited(t *testing.T) {
	var s *Semaphore

	s = NewSemaphore(0)
	assert.Nil(t, s)

	require.NoError(t, s.Acquire(context.Background()))
	s.Release()
	assert.Equal(t, 0, s.Active())
	assert.Equal(t, 0, s.Size())
}

func TestSemaphore_LimitsConcurrency(t *testing.T) {
	s := NewSemaphore(2)
	require.NotNil(t, s)
	assert.Equal(t, 2, s.Size())

	require.NoError(t, s.Acquire(context.Background()))
	require.NoError(t, s.Acquire(context.Background()))
	assert.Equal(t, 2, s.Active())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	s.Release()
	assert.Equal(t, 1, s.Active())
	require.NoError(t, s.Acquire(context.Background()))

	s.Release()
	s.Release()
	assert.Equal(t, 0, s.Active())
}

func TestSemaphore_ReleaseWithoutAcquireIsSafe(t *testing.T) {
	s := NewSemaphore(1)
	require.NotNil(t, s)

	s.Release()
	assert.Equal(t, 0, s.Active())
}
