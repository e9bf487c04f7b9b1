package endpoints

import (
	"github.com/chartdesk/chartdesk/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Intake endpoints
		&UploadEndpoint{},
		&ScanInboxEndpoint{},

		// Job endpoints
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&JobRunsEndpoint{},
		&RunRowsEndpoint{},
		&RerunJobEndpoint{},
		&CancelJobEndpoint{},
		&DeleteJobEndpoint{},
		&ConfirmPageEndpoint{},

		// Export endpoints
		&RunExportEndpoint{},
		&DownloadCSVEndpoint{},
		&DownloadXLSXEndpoint{},

		// Settings endpoints
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
		&UpdateSettingEndpoint{},
		&ResetSettingEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},

		// Static files (catch-all, must be last)
		&StaticEndpoint{},
	}
}

// JobCommands returns endpoints for job operations.
// This groups job-related commands under "jobs" subcommand.
func JobCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&JobRunsEndpoint{},
		&RunRowsEndpoint{},
		&RerunJobEndpoint{},
		&CancelJobEndpoint{},
		&DeleteJobEndpoint{},
		&ConfirmPageEndpoint{},
	}
}

// SettingsCommands returns endpoints for settings operations.
// This groups settings-related commands under "settings" subcommand.
func SettingsCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
		&UpdateSettingEndpoint{},
		&ResetSettingEndpoint{},
	}
}

// ExportCommands returns endpoints for export operations.
// This groups export-related commands under "export" subcommand.
func ExportCommands() []api.Endpoint {
	return []api.Endpoint{
		&RunExportEndpoint{},
		&DownloadCSVEndpoint{},
		&DownloadXLSXEndpoint{},
	}
}
