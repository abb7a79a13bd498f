package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qrandom/qrandom/internal/core/source"
	errwrap "github.com/qrandom/qrandom/internal/errors"
	"github.com/qrandom/qrandom/internal/observability"
)

var (
	fetchCount   int
	fetchTimeout time.Duration
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch random numbers through the source rotation",
	Long: `Fetch random numbers directly from the configured sources, without a
running server. The ANU cooldown persisted by the server is honoured; when
the next ANU slot is further away than --timeout the rotation falls back.`,
	Example: `  qrandom fetch
  qrandom fetch --count 16 --output-format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if fetchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, fetchTimeout)
			defer cancel()
		}

		cfg, err := loadConfig()
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "invalid configuration")
		}

		rt, err := buildRuntime(ctx, cfg, runtimeOptions{Logger: observability.CLILogger})
		if err != nil {
			return errwrap.WrapInternal(ctx, err, "failed to wire sources")
		}
		defer rt.Close() // nolint:errcheck // best-effort cleanup

		result, err := rt.rotation.Fetch(ctx, fetchCount)
		if err != nil {
			return errwrap.FromDomainError(ctx, err)
		}
		if result.Source == source.LocalName && len(rt.rotation.Sources()) > 1 {
			observability.CLILogger.Info("Upstream sources unavailable, numbers come from the local generator",
				zap.String("source", result.Source))
		}

		return emit(cmd, "fetch", result)
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().IntVarP(&fetchCount, "count", "n", 1, "how many numbers to fetch (1-1000)")
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 15*time.Second, "overall deadline, including any cooldown wait")
	addOutputFlags(fetchCmd)
}
