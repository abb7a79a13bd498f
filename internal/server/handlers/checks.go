package handlers

import (
	"context"
	"fmt"

	"github.com/qrandom/qrandom/internal/core/cache"
	"github.com/qrandom/qrandom/internal/core/engine"
	"github.com/qrandom/qrandom/internal/core/source"
)

// SourcesCheck is healthy while the rotation holds a source that cannot
// fail, and degraded when the preferred source is the local fallback.
func SourcesCheck(rotation *engine.Rotation) HealthChecker {
	return CheckerFunc(func(ctx context.Context) error {
		if rotation == nil {
			return fmt.Errorf("no source rotation configured")
		}
		infallible := false
		for _, src := range rotation.Sources() {
			if f, ok := src.(source.Infallible); ok && f.Infallible() {
				infallible = true
			}
		}
		if !infallible {
			return fmt.Errorf("no fallback source configured")
		}
		if len(rotation.Sources()) > 1 && rotation.Current() == source.LocalName {
			return fmt.Errorf("serving from %s: %w", source.LocalName, ErrDegraded)
		}
		return nil
	})
}

// CacheCheck pings the cache. A Redis cache running on its in-memory
// fallback reports degraded.
func CacheCheck(c cache.Cache) HealthChecker {
	return CheckerFunc(func(ctx context.Context) error {
		if c == nil {
			return nil
		}
		err := c.Ping(ctx)
		if fb, ok := c.(*cache.Fallback); ok && (err != nil || fb.Degraded()) {
			return fmt.Errorf("redis unavailable, using memory: %w", ErrDegraded)
		}
		return err
	})
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StoreCheck pings the history store. The service keeps serving without
// it, so a failure reports degraded.
func StoreCheck(db Pinger) HealthChecker {
	return CheckerFunc(func(ctx context.Context) error {
		if db == nil {
			return nil
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("store unreachable: %v: %w", err, ErrDegraded)
		}
		return nil
	})
}
