package cache

import (
	"context"
	"time"
)

// None disables caching. Every Get misses and counters stay at zero.
type None struct{}

func (None) Get(context.Context, string) ([]byte, error)              { return nil, ErrMiss }
func (None) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (None) Incr(context.Context, string) (int64, error)              { return 0, nil }
func (None) Counter(context.Context, string) (int64, error)           { return 0, nil }
func (None) Ping(context.Context) error                               { return nil }
func (None) Close() error                                             { return nil }
func (None) Backend() string                                          { return BackendNone }
