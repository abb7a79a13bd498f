package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/qrandom/qrandom/internal/output"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// addOutputFlags registers the --output-format, --out and --out-dir flags.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|yaml")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write timestamped output files to a directory")
}

// emit renders v in the format selected by the output flags. With --out-dir
// the file is named <name>-<utc timestamp>.<ext>.
func emit(cmd *cobra.Command, name string, v any) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()

	outPath, _ := flags.GetString("out")
	outDir, _ := flags.GetString("out-dir")
	outPath, outDir = strings.TrimSpace(outPath), strings.TrimSpace(outDir)
	if outPath != "" && outDir != "" {
		return fmt.Errorf("--out and --out-dir are mutually exclusive")
	}
	if outDir != "" {
		outPath = filepath.Join(outDir, outputFilename(name, format, time.Now()))
	}

	if outPath == "" || outPath == "-" {
		return output.Write(cmd.OutOrStdout(), format, v)
	}

	// #nosec G301 -- user-chosen output directory
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if err := output.Write(file, format, v); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

func outputFilename(name string, format output.Format, at time.Time) string {
	base := strings.Trim(unsafeFilenameChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-"), "-.")
	if base == "" {
		base = "output"
	}

	ext := "txt"
	switch format {
	case output.FormatJSON:
		ext = "json"
	case output.FormatYAML:
		ext = "yaml"
	}
	return fmt.Sprintf("%s-%s.%s", base, at.UTC().Format("20060102T150405Z"), ext)
}
