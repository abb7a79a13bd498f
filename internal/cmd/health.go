package cmd

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/qrandom/qrandom/internal/errors"
	"github.com/qrandom/qrandom/internal/observability"
	"github.com/qrandom/qrandom/internal/server/handlers"
)

var healthTimeout time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Run the checks the server exposes on /health against the local
configuration: source rotation, cache backend and history store.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))

		cfg, err := loadConfig()
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid configuration"))
			return
		}
		logger.Info("✅ Configuration valid")

		ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
		defer cancel()

		rt, err := buildRuntime(ctx, cfg, runtimeOptions{WithCache: true, Logger: logger})
		if err != nil {
			ExitWithCode(logger, foundry.ExitFailure, "Failed to wire sources", err)
			return
		}
		defer rt.Close() // nolint:errcheck // best-effort cleanup

		checks := map[string]handlers.HealthChecker{
			"sources": handlers.SourcesCheck(rt.rotation),
			"cache":   handlers.CacheCheck(rt.cache),
		}
		if rt.store != nil {
			checks["store"] = handlers.StoreCheck(rt.store.DB)
		} else if cfg.Store.Enabled {
			logger.Warn("⚠️  store: unavailable, cooldowns will not persist")
		}

		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)

		failed := false
		for _, name := range names {
			err := checks[name].CheckHealth(ctx)
			switch {
			case err == nil:
				logger.Info("✅ " + name)
			case errors.Is(err, handlers.ErrDegraded):
				logger.Warn("⚠️  "+name, zap.Error(err))
			default:
				logger.Error("❌ "+name, zap.Error(err))
				failed = true
			}
		}

		if failed {
			ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Health check failed", errwrap.NewInternalError("one or more checks failed"))
			return
		}
		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 10*time.Second, "deadline for all checks")
}
