package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chartdesk/chartdesk/internal/config"
	"github.com/chartdesk/chartdesk/internal/home"
	"github.com/chartdesk/chartdesk/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chartdesk server",
	Long: `Start the chartdesk HTTP server.

This starts the HTTP API, the extraction worker, and the inbox watcher.
Files dropped into the inbox directory are picked up automatically.
When the server shuts down (via Ctrl+C or SIGTERM), in-flight
extractions are cancelled and recorded; queued work resumes next start.

The server provides:
  - /health   - Basic server health check
  - /ready    - Readiness check (includes the job store)
  - /api/...  - Job, upload, export, and settings operations
  - /         - Embedded status frontend

Examples:
  chartdesk serve                    # Start on default port 8090
  chartdesk serve --port 3000        # Start on custom port
  chartdesk serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Set up logger
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		// Get home directory
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		// Prefer the home config file when --config wasn't given
		cfgPath := cfgFile
		if cfgPath == "" && h.ConfigExists() {
			cfgPath = h.ConfigPath()
		}
		cfgMgr, err := config.NewManager(cfgPath)
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()

		port := servePort
		if port == "" {
			port = cfgMgr.Get().Server.Port
		}

		// Create server
		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          port,
			HomePath:      h.Path(),
			ConfigManager: cfgMgr,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config, 8090)")

	rootCmd.AddCommand(serveCmd)
}
