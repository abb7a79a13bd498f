package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterWindow(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := &RateLimiter{
		Store: NewMemoryRateStore(),
		Limit: RateLimit{RequestsPerWindow: 1, WindowDuration: time.Minute},
		Clock: func() time.Time { return clock },
	}

	allowed, _, err := limiter.Take(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, wait, err := limiter.Take(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, time.Minute, wait)

	allowed, _, err = limiter.Take(context.Background(), "10.0.0.2")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestRateLimiterWindowResets(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := &RateLimiter{
		Store: NewMemoryRateStore(),
		Limit: RateLimit{RequestsPerWindow: 2, WindowDuration: time.Minute},
		Clock: func() time.Time { return now },
	}

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Take(context.Background(), "client")
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, wait, err := limiter.Take(context.Background(), "client")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, time.Minute, wait)

	now = now.Add(time.Minute)
	allowed, _, err = limiter.Take(context.Background(), "client")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestRateLimiterMargin(t *testing.T) {
	limiter := &RateLimiter{
		Store: NewMemoryRateStore(),
		Limit: RateLimit{RequestsPerWindow: 10, WindowDuration: time.Minute},
		Clock: func() time.Time { return time.Now().UTC() },
	}

	limiter.ApplySafetyMargin(0.9)
	limit := limiter.getLimit()
	require.Equal(t, 9, limit.RequestsPerWindow)
}

func TestNewRateLimiterAppliesSafetyMargin(t *testing.T) {
	limiter := NewRateLimiter(10, 0.5)
	require.Equal(t, 5, limiter.Effective().RequestsPerWindow)

	for i := 0; i < 5; i++ {
		allowed, _, err := limiter.Take(context.Background(), "client")
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, wait, err := limiter.Take(context.Background(), "client")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Positive(t, wait)

	require.Equal(t, 10, NewRateLimiter(10, 0).Effective().RequestsPerWindow)
	require.Equal(t, 10, NewRateLimiter(10, 1.5).Effective().RequestsPerWindow)
}

func TestRateLimiterTakeUnderConcurrency(t *testing.T) {
	limiter := NewRateLimiter(25, 0)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, err := limiter.Take(context.Background(), "10.0.0.9")
			if err == nil && allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(25), admitted.Load())
}

func TestMemoryRateStoreIncrementStartsNewWindow(t *testing.T) {
	store := NewMemoryRateStore()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	state, err := store.Increment(context.Background(), "k", start, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, state.RequestCount)

	state, err = store.Increment(context.Background(), "k", start.Add(59*time.Second), time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, state.RequestCount)
	require.Equal(t, start, state.WindowStart)

	state, err = store.Increment(context.Background(), "k", start.Add(time.Minute), time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, state.RequestCount)
	require.Equal(t, start.Add(time.Minute), state.WindowStart)
}

func TestNewRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(0, 0.5)
	require.Nil(t, limiter)

	allowed, _, err := limiter.Take(context.Background(), "anyone")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestMemoryRateStorePrune(t *testing.T) {
	store := NewMemoryRateStore()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.Increment(context.Background(), "a", old, time.Hour)
	require.NoError(t, err)
	_, err = store.Increment(context.Background(), "b", old.Add(time.Hour), time.Hour)
	require.NoError(t, err)

	require.Equal(t, 1, store.Prune(old.Add(time.Minute)))
	state, err := store.Increment(context.Background(), "a", old.Add(30*time.Second), time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, state.RequestCount, "pruned window starts over")
}
