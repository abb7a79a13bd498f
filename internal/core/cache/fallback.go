package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// Fallback serves from a primary cache and switches to a secondary for any
// operation the primary fails. A miss on the primary is not a failure.
type Fallback struct {
	primary   Cache
	secondary Cache
	logger    *logging.Logger
	degraded  atomic.Bool
}

// NewFallback wraps primary with secondary.
func NewFallback(primary, secondary Cache, logger *logging.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := f.primary.Get(ctx, key)
	if err == nil || errors.Is(err, ErrMiss) {
		f.recover()
		return val, err
	}
	f.degrade(err)
	return f.secondary.Get(ctx, key)
}

func (f *Fallback) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.primary.Set(ctx, key, value, ttl); err != nil {
		f.degrade(err)
		return f.secondary.Set(ctx, key, value, ttl)
	}
	f.recover()
	return nil
}

func (f *Fallback) Incr(ctx context.Context, key string) (int64, error) {
	val, err := f.primary.Incr(ctx, key)
	if err != nil {
		f.degrade(err)
		return f.secondary.Incr(ctx, key)
	}
	f.recover()
	return val, nil
}

func (f *Fallback) Counter(ctx context.Context, key string) (int64, error) {
	val, err := f.primary.Counter(ctx, key)
	if err != nil {
		f.degrade(err)
		return f.secondary.Counter(ctx, key)
	}
	return val, nil
}

// Ping reports the primary's health; the secondary always answers.
func (f *Fallback) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}

func (f *Fallback) Close() error {
	return errors.Join(f.primary.Close(), f.secondary.Close())
}

func (f *Fallback) Backend() string {
	if f.degraded.Load() {
		return f.secondary.Backend()
	}
	return f.primary.Backend()
}

// Degraded reports whether the last primary operation failed.
func (f *Fallback) Degraded() bool {
	return f.degraded.Load()
}

func (f *Fallback) degrade(err error) {
	if f.degraded.CompareAndSwap(false, true) && f.logger != nil {
		f.logger.Warn("Primary cache failed, serving from fallback",
			zap.String("primary", f.primary.Backend()),
			zap.String("fallback", f.secondary.Backend()),
			zap.Error(err))
	}
}

func (f *Fallback) recover() {
	if f.degraded.CompareAndSwap(true, false) && f.logger != nil {
		f.logger.Info("Primary cache recovered", zap.String("primary", f.primary.Backend()))
	}
}
