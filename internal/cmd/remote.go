package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/qrandom/qrandom/internal/output"
	"github.com/qrandom/qrandom/pkg/qrandom"
)

var (
	remoteTimeout     time.Duration
	remoteStreamCount int
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Query a running qrandom server",
	Long: `Query a running qrandom server over HTTP. The server address comes
from --url or QRANDOM_REMOTE_URL.`,
}

func remoteClient() *qrandom.Client {
	client := qrandom.New(viper.GetString("remote.url"))
	client.UserAgent = fmt.Sprintf("%s/%s", GetAppIdentity().BinaryName, versionInfo.Version)
	return client
}

func remoteContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if remoteTimeout > 0 {
		return context.WithTimeout(ctx, remoteTimeout)
	}
	return context.WithCancel(ctx)
}

var remoteRandomCmd = &cobra.Command{
	Use:   "random",
	Short: "Fetch one number",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteContext(cmd)
		defer cancel()
		resp, err := remoteClient().Random(ctx)
		if err != nil {
			return err
		}
		return emit(cmd, "remote.random", resp)
	},
}

var remoteBatchCmd = &cobra.Command{
	Use:   "batch [count]",
	Short: "Fetch a batch of numbers (default 100)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count := 100
		if len(args) == 1 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("count must be an integer: %w", err)
			}
			count = parsed
		}
		ctx, cancel := remoteContext(cmd)
		defer cancel()
		resp, err := remoteClient().Batch(ctx, count)
		if err != nil {
			return err
		}
		return emit(cmd, "remote.batch", resp)
	},
}

var remoteStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show service statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteContext(cmd)
		defer cancel()
		resp, err := remoteClient().Stats(ctx)
		if err != nil {
			return err
		}
		return emit(cmd, "remote.stats", resp)
	},
}

var remoteQualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Show the entropy report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteContext(cmd)
		defer cancel()
		resp, err := remoteClient().Quality(ctx)
		if err != nil {
			return err
		}
		return emit(cmd, "remote.quality", resp)
	},
}

var remoteSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show the server's source rotation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteContext(cmd)
		defer cancel()
		resp, err := remoteClient().Sources(ctx)
		if err != nil {
			return err
		}
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format == output.FormatTable {
			return emit(cmd, "remote.sources", resp.Sources)
		}
		return emit(cmd, "remote.sources", resp)
	},
}

var remoteProbeCmd = &cobra.Command{
	Use:   "probe <source>",
	Short: "Probe a source on the server and prefer it on success",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteContext(cmd)
		defer cancel()
		resp, err := remoteClient().Probe(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(cmd, "remote.probe", resp)
	},
}

var remoteStreamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Print numbers from the WebSocket stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		stream, err := remoteClient().Stream(ctx)
		if err != nil {
			return err
		}
		defer stream.Close() // nolint:errcheck // best-effort cleanup

		for i := 0; remoteStreamCount <= 0 || i < remoteStreamCount; i++ {
			msg, err := stream.Next()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%d\t%d\t%s\n", msg.SequenceNumber, msg.RandomNumber, msg.Source); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	remoteCmd.PersistentFlags().String("url", qrandom.DefaultBaseURL, "server base URL")
	remoteCmd.PersistentFlags().DurationVar(&remoteTimeout, "timeout", 30*time.Second, "request deadline")
	_ = viper.BindPFlag("remote.url", remoteCmd.PersistentFlags().Lookup("url"))

	for _, sub := range []*cobra.Command{remoteRandomCmd, remoteBatchCmd, remoteStatsCmd, remoteQualityCmd, remoteSourcesCmd, remoteProbeCmd} {
		addOutputFlags(sub)
		remoteCmd.AddCommand(sub)
	}
	remoteStreamCmd.Flags().IntVar(&remoteStreamCount, "count", 0, "stop after this many messages (0 streams until interrupted)")
	remoteCmd.AddCommand(remoteStreamCmd)

	rootCmd.AddCommand(remoteCmd)
}
