package source

import (
	"context"
	"sync"
	"time"
)

// Gate spaces out requests to a rate-limited upstream. At most one request
// is in flight, and the next one is dispatched no earlier than the previous
// response time plus Cooldown.
type Gate struct {
	Cooldown time.Duration
	Clock    func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	next     time.Time
	inflight bool
	// idle is closed when the in-flight request completes.
	idle chan struct{}
}

// Wait suspends the caller until it may dispatch and returns how long it
// waited. The caller must call Complete once the response (or failure) is
// observed. When the slot cannot open before ctx's deadline, Wait returns
// context.DeadlineExceeded at once without claiming it.
func (g *Gate) Wait(ctx context.Context) (time.Duration, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := g.now()

	for {
		g.mu.Lock()
		now := g.now()
		if !g.inflight && !g.next.After(now) {
			g.inflight = true
			g.idle = make(chan struct{})
			g.mu.Unlock()
			return now.Sub(start), nil
		}

		wait := g.next.Sub(now)
		if g.inflight {
			// The response has not arrived yet, so a full cooldown is the
			// least that is left.
			wait = max(wait, g.Cooldown)
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			g.mu.Unlock()
			return wait, context.DeadlineExceeded
		}

		if g.inflight {
			idle := g.idle
			g.mu.Unlock()
			select {
			case <-idle:
			case <-ctx.Done():
				return g.now().Sub(start), ctx.Err()
			}
			continue
		}
		g.mu.Unlock()

		if err := g.sleep(ctx, wait); err != nil {
			return g.now().Sub(start), err
		}
	}
}

// Complete releases the in-flight request whose response was observed at t.
// The next dispatch is pushed to no earlier than t plus the cooldown.
func (g *Gate) Complete(t time.Time) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	if until := t.Add(g.Cooldown); until.After(g.next) {
		g.next = until
	}
	if g.inflight {
		g.inflight = false
		close(g.idle)
	}
	return g.next
}

// Defer pushes the next dispatch to no earlier than until.
func (g *Gate) Defer(until time.Time) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	if until.After(g.next) {
		g.next = until
	}
	return g.next
}

// Restore replaces the gate state, typically from persisted cooldown state.
func (g *Gate) Restore(next time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = next
}

// NextAllowed returns the earliest time the next request may be dispatched.
func (g *Gate) NextAllowed() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next
}

// Ready reports whether a request could be dispatched now without waiting.
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.inflight && !g.next.After(g.now())
}

func (g *Gate) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now().UTC()
}

func (g *Gate) sleep(ctx context.Context, d time.Duration) error {
	if g.Sleep != nil {
		return g.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
