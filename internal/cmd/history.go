package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/qrandom/qrandom/internal/core"
	"github.com/qrandom/qrandom/internal/core/store"
)

var (
	historySource  string
	historyOutcome string
	historyLimit   int
	historyPrune   time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded source fetch attempts",
	Example: `  qrandom history --source "ANU QRNG" --outcome failure
  qrandom history --prune 72h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outcome, err := parseOutcome(historyOutcome)
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		if historyPrune > 0 {
			pruned, err := db.PruneFetches(cmd.Context(), time.Now().Add(-historyPrune))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d history record(s) older than %s\n", pruned, historyPrune)
			return err
		}

		records, err := db.ListFetches(cmd.Context(), store.HistoryQuery{
			Source:  strings.TrimSpace(historySource),
			Outcome: outcome,
			Limit:   historyLimit,
		})
		if err != nil {
			return err
		}
		return emit(cmd, "history", records)
	},
}

func parseOutcome(value string) (core.FetchOutcome, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "all":
		return "", nil
	case string(core.FetchOutcomeSuccess):
		return core.FetchOutcomeSuccess, nil
	case string(core.FetchOutcomeFailure):
		return core.FetchOutcomeFailure, nil
	default:
		return "", fmt.Errorf("invalid outcome %q (expected success, failure or all)", value)
	}
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historySource, "source", "", "only show this source (exact name)")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "all", "success|failure|all")
	historyCmd.Flags().IntVar(&historyLimit, "limit", store.DefaultHistoryLimit, "maximum records to show")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "delete records older than this instead of listing")
	addOutputFlags(historyCmd)
}
