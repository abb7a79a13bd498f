package engine

import (
	"context"
	"math"
	"sync"
	"time"
)

// RateLimiter enforces a fixed-window request limit per client key.
type RateLimiter struct {
	Store  RateLimitStore
	Limit  RateLimit
	Clock  func() time.Time
	Margin float64
}

// RateLimit represents a rate limit window.
type RateLimit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// WindowState is the counter of one client within the current window.
type WindowState struct {
	WindowStart  time.Time
	RequestCount int
}

// RateLimitStore stores rate limit state.
type RateLimitStore interface {
	// Increment counts one request in the window open at now, starting a
	// new window when the previous one has ended, and returns the result.
	// The read and the write happen as one step.
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (WindowState, error)
}

// DefaultLimit is the inbound limit applied when none is configured.
var DefaultLimit = RateLimit{RequestsPerWindow: 1000, WindowDuration: time.Minute}

// NewRateLimiter returns a limiter allowing perMinute requests per client,
// backed by an in-memory store. A non-positive perMinute disables limiting.
// margin scales the limit down when in (0, 1); other values leave it as is.
func NewRateLimiter(perMinute int, margin float64) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	limiter := &RateLimiter{
		Store: NewMemoryRateStore(),
		Limit: RateLimit{RequestsPerWindow: perMinute, WindowDuration: time.Minute},
	}
	limiter.ApplySafetyMargin(margin)
	return limiter
}

// Take counts one request and reports whether it fits in the window. Store
// errors let the request through.
func (r *RateLimiter) Take(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.Store == nil {
		return true, 0, nil
	}

	now := r.now()
	limit := r.getLimit()
	state, err := r.Store.Increment(ctx, key, now, limit.WindowDuration)
	if err != nil {
		return true, 0, err
	}
	if state.RequestCount > limit.RequestsPerWindow {
		return false, state.WindowStart.Add(limit.WindowDuration).Sub(now), nil
	}
	return true, 0, nil
}

// Effective returns the limit after the safety margin.
func (r *RateLimiter) Effective() RateLimit {
	return r.getLimit()
}

// ApplySafetyMargin adjusts the effective request limit by a ratio (0-1].
func (r *RateLimiter) ApplySafetyMargin(margin float64) {
	if r == nil {
		return
	}
	if margin <= 0 || margin > 1 {
		return
	}
	r.Margin = margin
}

func (r *RateLimiter) getLimit() RateLimit {
	if r == nil {
		return RateLimit{RequestsPerWindow: 1, WindowDuration: time.Minute}
	}
	limit := r.Limit
	if limit.RequestsPerWindow <= 0 || limit.WindowDuration <= 0 {
		limit = DefaultLimit
	}
	return r.applyMargin(limit)
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *RateLimiter) applyMargin(limit RateLimit) RateLimit {
	if r == nil || r.Margin <= 0 || r.Margin > 1 {
		return limit
	}
	adjusted := int(math.Floor(float64(limit.RequestsPerWindow) * r.Margin))
	if adjusted < 1 {
		adjusted = 1
	}
	limit.RequestsPerWindow = adjusted
	return limit
}

// MemoryRateStore keeps window state in process memory.
type MemoryRateStore struct {
	mu    sync.Mutex
	state map[string]WindowState
}

// NewMemoryRateStore returns an empty store.
func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{state: make(map[string]WindowState)}
}

func (m *MemoryRateStore) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (WindowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = make(map[string]WindowState)
	}
	state, ok := m.state[key]
	if !ok || state.WindowStart.IsZero() || !now.Before(state.WindowStart.Add(window)) {
		state = WindowState{WindowStart: now}
	}
	state.RequestCount++
	m.state[key] = state
	return state, nil
}

// Prune drops windows that started before cutoff.
func (m *MemoryRateStore) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, val := range m.state {
		if val.WindowStart.Before(cutoff) {
			delete(m.state, key)
			removed++
		}
	}
	return removed
}
