package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/qrandom/qrandom/internal/output"
)

var (
	extended      bool
	versionFormat string
)

// VersionInfo is the structured form of `version --extended`.
type VersionInfo struct {
	Binary    string `json:"binary" yaml:"binary"`
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	Go        string `json:"go" yaml:"go"`
	Gofulmen  string `json:"gofulmen" yaml:"gofulmen"`
	Crucible  string `json:"crucible" yaml:"crucible"`
}

func currentVersion() VersionInfo {
	deps := crucible.GetVersion()
	return VersionInfo{
		Binary:    GetAppIdentity().BinaryName,
		Version:   versionInfo.Version,
		Commit:    versionInfo.Commit,
		BuildDate: versionInfo.BuildDate,
		Go:        runtime.Version(),
		Gofulmen:  deps.Gofulmen,
		Crucible:  deps.Crucible,
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for full details including Crucible and Go versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := currentVersion()
		out := cmd.OutOrStdout()

		if versionFormat != "" && versionFormat != "text" {
			format, err := output.ParseFormat(versionFormat)
			if err != nil {
				return err
			}
			return output.Write(out, format, info)
		}

		fmt.Fprintf(out, "%s %s\n", info.Binary, info.Version)
		if extended {
			fmt.Fprintf(out, "Commit: %s\n", info.Commit)
			fmt.Fprintf(out, "Built: %s\n", info.BuildDate)
			fmt.Fprintf(out, "Go: %s\n\n", info.Go)
			fmt.Fprintf(out, "Gofulmen: %s\n", info.Gofulmen)
			fmt.Fprintf(out, "Crucible: %s\n", info.Crucible)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
	versionCmd.Flags().StringVar(&versionFormat, "output-format", "text", "Output format: text|json|yaml")
}
