package main

import (
	"github.com/spf13/cobra"

	"github.com/chartdesk/chartdesk/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running chartdesk server via HTTP.

These commands require a running server (chartdesk serve).
Use --server to specify a custom server URL.

Examples:
  chartdesk api health                  # Check server health
  chartdesk api upload scan.png         # Upload a chart scan
  chartdesk api jobs list               # List all jobs
  chartdesk api jobs confirm <id> 3     # Confirm the chart page of a PDF
  chartdesk api export csv              # Download the rolling CSV export`,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Job management commands",
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Runtime settings commands",
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export generation and download commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8090", "Server URL",
	)

	// Health and intake endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.UploadEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ScanInboxEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerUIEndpoint{}).Command(getServerURL))

	// Jobs as subcommand group
	for _, ep := range endpoints.JobCommands() {
		if cmd := ep.Command(getServerURL); cmd != nil {
			jobsCmd.AddCommand(cmd)
		}
	}

	// Settings as subcommand group
	for _, ep := range endpoints.SettingsCommands() {
		if cmd := ep.Command(getServerURL); cmd != nil {
			settingsCmd.AddCommand(cmd)
		}
	}

	// Exports as subcommand group
	for _, ep := range endpoints.ExportCommands() {
		if cmd := ep.Command(getServerURL); cmd != nil {
			exportCmd.AddCommand(cmd)
		}
	}

	apiCmd.AddCommand(jobsCmd)
	apiCmd.AddCommand(settingsCmd)
	apiCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(apiCmd)
}
