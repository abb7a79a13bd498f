package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qrandom/qrandom/internal/core/engine"
	errwrap "github.com/qrandom/qrandom/internal/errors"
	"github.com/qrandom/qrandom/internal/metrics"
	"github.com/qrandom/qrandom/internal/observability"
	"github.com/qrandom/qrandom/internal/server"
	"github.com/qrandom/qrandom/internal/server/handlers"
	servermw "github.com/qrandom/qrandom/internal/server/middleware"
)

const (
	limiterPruneInterval = 5 * time.Minute
	uptimeInterval       = 15 * time.Second
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the randomness HTTP server with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (log level and file validation; restart for the rest)

Persisted ANU cooldown state is restored on start so a restart never
sends a request the upstream would reject.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		cfg, err := loadConfig()
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid configuration")
		}

		loggerOpts := observability.ServerLoggerOptions{
			Service:     identity.BinaryName,
			Level:       cfg.Logging.Level,
			Namespace:   namespace,
			Development: cfg.Debug.Enabled,
		}
		if err := observability.InitServerLogger(loggerOpts); err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid logging configuration")
		}
		logger := observability.ServerLogger

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = 9090
		}
		if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
		}

		rt, err := buildRuntime(cmd.Context(), cfg, runtimeOptions{WithCache: true, Logger: logger})
		if err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "failed to wire sources")
		}
		defer func() {
			if err := rt.Close(); err != nil {
				logger.Warn("Failed to release resources", zap.Error(err))
			}
		}()

		if rt.store != nil && cfg.Store.HistoryRetention > 0 {
			cutoff := time.Now().Add(-cfg.Store.HistoryRetention)
			if pruned, err := rt.store.PruneFetches(cmd.Context(), cutoff); err != nil {
				logger.Warn("Failed to prune fetch history", zap.Error(err))
			} else if pruned > 0 {
				logger.Info("Pruned fetch history", zap.Int64("records", pruned))
			}
		}

		if err := rt.service.Tracker().ServiceStarted(cmd.Context()); err != nil {
			logger.Warn("Failed to record service start", zap.Error(err))
		}

		sourceNames := make([]string, 0, len(rt.rotation.Sources()))
		for _, src := range rt.rotation.Sources() {
			sourceNames = append(sourceNames, src.Name())
		}
		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", metricsPort),
			zap.Strings("sources", sourceNames),
			zap.String("cache", rt.cache.Backend()))

		hm := handlers.NewHealthManager(versionInfo.Version)
		hm.RegisterChecker("sources", handlers.SourcesCheck(rt.rotation))
		hm.RegisterChecker("cache", handlers.CacheCheck(rt.cache))
		if rt.store != nil {
			hm.RegisterChecker("store", handlers.StoreCheck(rt.store.DB))
		}
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		hm.RegisterChecker("app_identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})

		handlers.SetAppIdentity(identity)

		limiter := engine.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.SafetyMargin)
		if limiter != nil {
			logger.Debug("Inbound rate limit",
				zap.Int("requests_per_minute", limiter.Effective().RequestsPerWindow),
				zap.Float64("safety_margin", cfg.RateLimit.SafetyMargin))
		}

		srv := server.New(server.Options{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.Port,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			IdleTimeout:    cfg.Server.IdleTimeout,
			RequestTimeout: cfg.Server.RequestTimeout,
			CORSOrigins:    cfg.Server.CORSOrigins,
			RateLimiter:    limiter,
			StreamInterval: cfg.Stream.Interval,
			MetricsPort:    metricsPort,
			Service:        rt.service,
			Health:         hm,
		})

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: the HTTP server stops before the
		// logger is flushed.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			reloaded, err := loadConfig()
			if err != nil {
				logger.Error("Reloaded config is invalid, keeping current settings", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			loggerOpts.Level = reloaded.Logging.Level
			if err := observability.InitServerLogger(loggerOpts); err != nil {
				logger.Error("Failed to apply reloaded log level", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			observability.ServerLogger.Info("Configuration reloaded",
				zap.String("file", viper.ConfigFileUsed()),
				zap.String("log_level", reloaded.Logging.Level))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		runCtx, stop := context.WithCancel(cmd.Context())
		defer stop()
		g, gctx := errgroup.WithContext(runCtx)

		started := time.Now()
		metrics.SetServerStartTime(started.Unix())
		hm.MarkStarted()

		g.Go(func() error {
			// The server stopping for any reason ends the other workers.
			defer stop()
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			err := signals.Listen(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Signal handler error", zap.Error(err))
				return err
			}
			return nil
		})

		if limiter != nil {
			if memStore, ok := limiter.Store.(*engine.MemoryRateStore); ok {
				g.Go(func() error {
					servermw.PruneEvery(memStore, limiterPruneInterval, gctx.Done())
					return nil
				})
			}
		}

		g.Go(func() error {
			ticker := time.NewTicker(uptimeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case now := <-ticker.C:
					metrics.SetServerUptime(int64(now.Sub(started).Seconds()))
				}
			}
		})

		if err := g.Wait(); err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8000, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
