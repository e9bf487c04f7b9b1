package main

import (
	"github.com/spf13/cobra"

	"github.com/chartdesk/chartdesk/internal/api"
	"github.com/chartdesk/chartdesk/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "chartdesk",
	Short: "Chart digitization pipeline with vision-model table extraction",
	Long: `Chartdesk turns scanned music-chart pages into a queryable dataset.

Drop scans into the inbox (or upload them over HTTP) and the pipeline
extracts every chart row with a vision model, chases missing rank
ranges with targeted retries, and keeps rolling CSV and XLSX exports
of everything extracted so far.

The pipeline includes:
  - Inbox watching with canonical-name dedupe across re-scans
  - PDF page selection with a review step for ambiguous documents
  - Rank-gap detection with targeted and fallback-model retries
  - Per-run audit trails with token accounting`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.chartdesk/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "chartdesk home directory (default: ~/.chartdesk)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
