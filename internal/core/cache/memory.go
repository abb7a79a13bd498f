package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultMaxEntries bounds the in-memory cache when no size is configured.
const DefaultMaxEntries = 1024

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process LRU cache with per-entry expiry. Counters live
// outside the LRU and never expire.
type Memory struct {
	cache *lru.Cache
	clock func() time.Time

	mu       sync.Mutex
	counters map[string]int64
}

// NewMemory creates an in-memory cache holding at most maxEntries values.
func NewMemory(maxEntries int) (*Memory, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	cache, err := lru.New(maxEntries)
	if err != nil {
		return nil, err
	}
	return &Memory{
		cache:    cache,
		counters: make(map[string]int64),
	}, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	val, found := m.cache.Get(key)
	if !found {
		return nil, ErrMiss
	}

	entry := val.(cacheEntry)
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.cache.Remove(key)
		return nil, ErrMiss
	}

	return append([]byte(nil), entry.value...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.cache.Add(key, entry)
	return nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *Memory) Counter(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key], nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }
func (m *Memory) Backend() string            { return BackendMemory }

// Len returns the number of cached values, expired ones included.
func (m *Memory) Len() int {
	return m.cache.Len()
}

func (m *Memory) now() time.Time {
	if m.clock != nil {
		return m.clock()
	}
	return time.Now()
}
