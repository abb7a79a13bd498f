package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/qrandom/qrandom/internal/config"
	"github.com/qrandom/qrandom/internal/core/cache"
	"github.com/qrandom/qrandom/internal/core/engine"
	"github.com/qrandom/qrandom/internal/core/entropy"
	"github.com/qrandom/qrandom/internal/core/source"
	"github.com/qrandom/qrandom/internal/core/stats"
	"github.com/qrandom/qrandom/internal/core/store"
)

// appRuntime holds the components shared by serve and the one-shot commands.
type appRuntime struct {
	cfg      *config.Config
	store    *store.Store
	cache    cache.Cache
	anu      *source.ANUSource
	rotation *engine.Rotation
	service  *engine.Service
}

type runtimeOptions struct {
	// WithCache selects the configured cache backend; one-shot commands
	// talk to the sources directly.
	WithCache bool
	Logger    *logging.Logger
}

// buildRuntime wires store, sources, rotation and service from cfg. The
// store is optional: when it cannot be opened the sources run without
// persisted cooldowns and no history is recorded.
func buildRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (*appRuntime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	rt := &appRuntime{cfg: cfg}

	if cfg.Store.Enabled {
		db, err := openStoreWith(ctx, cfg.Store)
		if err != nil {
			logWarn(opts.Logger, "Store unavailable, cooldowns will not persist", zap.Error(err))
		} else {
			rt.store = db
		}
	}

	sources, anu, err := buildSources(cfg, rt.cooldownStore())
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.anu = anu
	if anu != nil {
		if err := anu.Restore(ctx); err != nil {
			logWarn(opts.Logger, "Failed to restore ANU cooldown", zap.Error(err))
		} else if next := anu.NextAllowed(); next.After(time.Now()) {
			logInfo(opts.Logger, "Restored ANU cooldown",
				zap.Time("next_allowed_at", next))
		}
	}

	observer := engine.MetricsObserver()
	if rt.store != nil {
		observer = engine.ChainObservers(engine.HistoryObserver(rt.store, opts.Logger), observer)
	}
	rt.rotation, err = engine.NewRotation(sources, engine.RotationOptions{
		ReprobeInterval: cfg.Rotation.ReprobeInterval,
		Logger:          opts.Logger,
		Observer:        observer,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.cache = cache.None{}
	if opts.WithCache {
		rt.cache, err = cache.New(ctx, cache.Config{
			Backend:    cfg.Cache.Backend,
			RedisURL:   cfg.Cache.RedisURL,
			KeyPrefix:  cfg.Cache.KeyPrefix,
			MaxEntries: cfg.Cache.MaxEntries,
		}, opts.Logger)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("build cache: %w", err)
		}
	}

	rt.service, err = engine.NewService(rt.rotation, engine.ServiceOptions{
		Cache:           rt.cache,
		Analyzer:        entropy.NewAnalyzer(cfg.Entropy.BufferSize),
		Tracker:         stats.NewTracker(rt.cache, nil),
		TTL:             cfg.Cache.TTL,
		StatsTTL:        cfg.Cache.StatsTTL,
		StreamBatchSize: cfg.Stream.BatchSize,
		Logger:          opts.Logger,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// buildSources returns the configured sources in priority order: ANU, the
// custom source when a URL is set, and the local generator last.
func buildSources(cfg *config.Config, cooldowns source.CooldownStore) ([]source.Source, *source.ANUSource, error) {
	var (
		sources []source.Source
		anu     *source.ANUSource
	)

	if cfg.Sources.ANU.Enabled {
		var err error
		anu, err = source.NewANUSource(source.ANUOptions{
			URL:      cfg.Sources.ANU.URL,
			Timeout:  cfg.Sources.ANU.Timeout,
			Cooldown: cfg.Sources.ANU.Cooldown,
			Store:    cooldowns,
		})
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, anu)
	}

	if rawURL := strings.TrimSpace(cfg.Sources.Custom.URL); rawURL != "" {
		custom, err := source.NewCustomSource(rawURL, cfg.Sources.Custom.Timeout, nil)
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, custom)
	}

	sources = append(sources, source.NewLocalSource())
	return sources, anu, nil
}

func (rt *appRuntime) cooldownStore() source.CooldownStore {
	if rt.store == nil {
		return nil
	}
	return rt.store
}

// Close releases the cache and the store.
func (rt *appRuntime) Close() error {
	var errs []error
	if rt.cache != nil {
		errs = append(errs, rt.cache.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	return errors.Join(errs...)
}

func logWarn(logger *logging.Logger, msg string, fields ...zap.Field) {
	if logger != nil {
		logger.Warn(msg, fields...)
	}
}

func logInfo(logger *logging.Logger, msg string, fields ...zap.Field) {
	if logger != nil {
		logger.Info(msg, fields...)
	}
}
