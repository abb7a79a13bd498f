package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/qrandom/qrandom/internal/core/engine"
	errwrap "github.com/qrandom/qrandom/internal/errors"
	"github.com/qrandom/qrandom/internal/observability"
	"github.com/qrandom/qrandom/internal/output"
)

var (
	sourcesProbe   bool
	sourcesTimeout time.Duration
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the configured sources in rotation order",
	Long: `List the configured sources in rotation order together with any
persisted cooldown. With --probe every source is asked for one number
concurrently; a source still cooling down past --timeout reports a timeout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
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

		if !sourcesProbe {
			return emit(cmd, "sources", rt.rotation.Statuses())
		}

		outcomes, err := probeAll(ctx, rt.rotation, sourcesTimeout)
		if err != nil {
			return err
		}
		return emit(cmd, "sources.probe", outcomes)
	},
}

// probeAll probes every source concurrently. Individual failures are
// reported in the outcome rather than aborting the others.
func probeAll(ctx context.Context, rotation *engine.Rotation, timeout time.Duration) ([]output.ProbeOutcome, error) {
	sources := rotation.Sources()
	outcomes := make([]output.ProbeOutcome, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			probeCtx := gctx
			if timeout > 0 {
				var cancel context.CancelFunc
				probeCtx, cancel = context.WithTimeout(gctx, timeout)
				defer cancel()
			}

			began := time.Now()
			result, err := rotation.Probe(probeCtx, src.Name())
			outcome := output.ProbeOutcome{Source: src.Name(), Duration: time.Since(began)}
			if err != nil {
				outcome.Error = err.Error()
			} else if len(result.Numbers) > 0 {
				n := int(result.Numbers[0])
				outcome.Number = &n
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func init() {
	rootCmd.AddCommand(sourcesCmd)

	sourcesCmd.Flags().BoolVar(&sourcesProbe, "probe", false, "fetch one number from every source")
	sourcesCmd.Flags().DurationVar(&sourcesTimeout, "timeout", 15*time.Second, "per-source probe deadline")
	addOutputFlags(sourcesCmd)
}
