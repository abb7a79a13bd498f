// Package stats tracks request counters, cache effectiveness, response
// times and live stream connections.
package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qrandom/qrandom/internal/core/cache"
)

// Tracker records service activity. Counters are kept in the cache layer
// so that several instances sharing Redis report combined numbers.
type Tracker struct {
	cache cache.Cache
	clock func() time.Time
	start time.Time

	active atomic.Int64

	mu           sync.Mutex
	latencyTotal time.Duration
	latencyCount int64
}

// NewTracker returns a tracker writing counters to c.
func NewTracker(c cache.Cache, clock func() time.Time) *Tracker {
	if c == nil {
		c = cache.None{}
	}
	t := &Tracker{cache: c, clock: clock}
	t.start = t.now()
	return t
}

// Hit counts a cache hit.
func (t *Tracker) Hit(ctx context.Context) error {
	return t.incr(ctx, cache.CounterHits)
}

// Miss counts a cache miss.
func (t *Tracker) Miss(ctx context.Context) error {
	return t.incr(ctx, cache.CounterMisses)
}

// Request counts a request served from the sources.
func (t *Tracker) Request(ctx context.Context) error {
	return t.incr(ctx, cache.CounterTotalRequests)
}

// ServiceStarted counts a process start.
func (t *Tracker) ServiceStarted(ctx context.Context) error {
	return t.incr(ctx, cache.CounterServiceStarts)
}

// Counter reads a named counter.
func (t *Tracker) Counter(ctx context.Context, name string) (int64, error) {
	return t.cache.Counter(ctx, cache.CounterKey(name))
}

// HitRate returns hits/(hits+misses) as a percentage, zero before any
// lookup.
func (t *Tracker) HitRate(ctx context.Context) (float64, error) {
	hits, err := t.Counter(ctx, cache.CounterHits)
	if err != nil {
		return 0, err
	}
	misses, err := t.Counter(ctx, cache.CounterMisses)
	if err != nil {
		return 0, err
	}
	if hits+misses == 0 {
		return 0, nil
	}
	return float64(hits) / float64(hits+misses) * 100, nil
}

// ObserveLatency records how long one request took.
func (t *Tracker) ObserveLatency(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latencyTotal += d
	t.latencyCount++
}

// AverageResponseTime returns the mean observed latency in milliseconds.
func (t *Tracker) AverageResponseTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latencyCount == 0 {
		return 0
	}
	avg := t.latencyTotal / time.Duration(t.latencyCount)
	return float64(avg) / float64(time.Millisecond)
}

// Uptime returns the time since the tracker was created.
func (t *Tracker) Uptime() time.Duration {
	return t.now().Sub(t.start)
}

// StartedAt returns when the tracker was created.
func (t *Tracker) StartedAt() time.Time {
	return t.start
}

// ConnectionOpened increments the active connection count and returns it.
func (t *Tracker) ConnectionOpened() int64 {
	return t.active.Add(1)
}

// ConnectionClosed decrements the active connection count and returns it.
func (t *Tracker) ConnectionClosed() int64 {
	return t.active.Add(-1)
}

// ActiveConnections returns the number of open streams.
func (t *Tracker) ActiveConnections() int64 {
	return t.active.Load()
}

func (t *Tracker) incr(ctx context.Context, name string) error {
	_, err := t.cache.Incr(ctx, cache.CounterKey(name))
	return err
}

func (t *Tracker) now() time.Time {
	if t.clock != nil {
		return t.clock()
	}
	return time.Now().UTC()
}
