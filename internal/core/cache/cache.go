// Package cache provides the short-lived key-value store consulted before
// the source rotation, plus the counters behind service statistics.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backends accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Well-known keys.
const (
	KeySingle = "random:single"
	KeyStats  = "stats:service"
)

// Counter names.
const (
	CounterHits          = "hits"
	CounterMisses        = "misses"
	CounterTotalRequests = "total_requests"
	CounterServiceStarts = "service_starts"
)

// Cache is a TTL key-value store with monotonic counters.
type Cache interface {
	// Get returns the value for key or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value for ttl; a non-positive ttl keeps it until evicted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Incr increments the counter key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Counter returns the current value of key, zero if unset.
	Counter(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
	// Backend names the active implementation.
	Backend() string
}

// Config selects and tunes a backend.
type Config struct {
	Backend    string
	RedisURL   string
	KeyPrefix  string
	MaxEntries int
}

// BatchKey returns the cache key of a batch of count numbers.
func BatchKey(count int) string {
	return fmt.Sprintf("random:batch:%d", count)
}

// CounterKey returns the key of a named counter.
func CounterKey(name string) string {
	return "counter:" + name
}

// New builds the configured backend. A Redis backend that cannot be reached
// at start degrades to the in-memory backend; one that fails later falls
// back per operation.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (Cache, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", BackendMemory:
		return NewMemory(cfg.MaxEntries)
	case BackendNone:
		return None{}, nil
	case BackendRedis:
		memory, err := NewMemory(cfg.MaxEntries)
		if err != nil {
			return nil, err
		}
		redisCache, err := NewRedis(ctx, cfg.RedisURL, cfg.KeyPrefix)
		if err != nil {
			if logger != nil {
				logger.Warn("Redis cache unavailable, using in-memory cache",
					zap.String("redis_url", redactURL(cfg.RedisURL)),
					zap.Error(err))
			}
			return memory, nil
		}
		return NewFallback(redisCache, memory, logger), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q (expected memory, redis or none)", cfg.Backend)
	}
}

// GetJSON decodes the cached value of key into out. It reports false on a
// miss.
func GetJSON(ctx context.Context, c Cache, key string, out any) (bool, error) {
	data, err := c.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

func redactURL(raw string) string {
	if at := strings.LastIndex(raw, "@"); at >= 0 {
		if scheme := strings.Index(raw, "://"); scheme >= 0 && scheme < at {
			return raw[:scheme+3] + "***" + raw[at:]
		}
	}
	return raw
}
