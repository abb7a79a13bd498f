package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qrandom/qrandom/internal/core/store"
	"github.com/qrandom/qrandom/internal/output"
)

var (
	cooldownListSource string

	cooldownResetAll    bool
	cooldownResetSource string
	cooldownResetYes    bool
	cooldownResetDryRun bool
)

var cooldownCmd = &cobra.Command{
	Use:   "cooldown",
	Short: "Manage persisted source cooldown state",
}

var cooldownListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored cooldown state",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.CooldownQuery{Source: strings.TrimSpace(cooldownListSource)}
		if query.Source == "" {
			query.All = true
		}

		states, err := db.ListCooldowns(cmd.Context(), query)
		if err != nil {
			return err
		}
		return emit(cmd, "cooldown.list", states)
	},
}

// CooldownResetResult reports what a reset matched and removed.
type CooldownResetResult struct {
	Matched int   `json:"matched" yaml:"matched"`
	Deleted int64 `json:"deleted" yaml:"deleted"`
	DryRun  bool  `json:"dry_run" yaml:"dry_run"`
}

var cooldownResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored cooldown state",
	Long: `Delete persisted cooldown rows so the next start does not wait for
them. The upstream still enforces its own limit; resetting only helps when
the stored state is stale.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		query := store.CooldownQuery{
			All:    cooldownResetAll,
			Source: strings.TrimSpace(cooldownResetSource),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !cooldownResetYes && !cooldownResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.ListCooldowns(cmd.Context(), query)
		if err != nil {
			return err
		}

		result := CooldownResetResult{Matched: len(matched), DryRun: cooldownResetDryRun}
		if !cooldownResetDryRun {
			result.Deleted, err = db.ResetCooldowns(cmd.Context(), query)
			if err != nil {
				return err
			}
		}

		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format != output.FormatTable {
			return emit(cmd, "cooldown.reset", result)
		}
		if result.DryRun {
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Would delete %d cooldown entr(ies)\n", result.Matched)
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d/%d cooldown entr(ies)\n", result.Deleted, result.Matched)
		return err
	},
}

func init() {
	cooldownListCmd.Flags().StringVar(&cooldownListSource, "source", "", "Only list this source (exact name)")
	addOutputFlags(cooldownListCmd)

	cooldownResetCmd.Flags().BoolVar(&cooldownResetAll, "all", false, "Reset all sources")
	cooldownResetCmd.Flags().StringVar(&cooldownResetSource, "source", "", "Reset a single source (exact name)")
	cooldownResetCmd.Flags().BoolVar(&cooldownResetYes, "yes", false, "Confirm destructive reset")
	cooldownResetCmd.Flags().BoolVar(&cooldownResetDryRun, "dry-run", false, "Show what would be deleted")
	addOutputFlags(cooldownResetCmd)

	cooldownCmd.AddCommand(cooldownListCmd)
	cooldownCmd.AddCommand(cooldownResetCmd)
	rootCmd.AddCommand(cooldownCmd)
}
