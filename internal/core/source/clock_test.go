package source

import (
	"context"
	"sync"
	"time"

	"github.com/qrandom/qrandom/internal/core"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

type memoryCooldownStore struct {
	mu    sync.Mutex
	state map[string]core.CooldownState
}

func (m *memoryCooldownStore) GetCooldown(ctx context.Context, source string) (*core.CooldownState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.state[source]; ok {
		return &state, nil
	}
	return nil, nil
}

func (m *memoryCooldownStore) UpdateCooldown(ctx context.Context, state *core.CooldownState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = make(map[string]core.CooldownState)
	}
	m.state[state.Source] = *state
	return nil
}
