package config

// Config holds chartdesk's file-based configuration. These are bootstrap
// values read once at startup; runtime-tunable settings (model choice,
// concurrency, paused flag) live in the settings store so they can change
// without a restart.
// Stored at: {home}/config.yaml
type Config struct {
	Server     ServerCfg     `mapstructure:"server" yaml:"server"`
	Extraction ExtractionCfg `mapstructure:"extraction" yaml:"extraction"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Port string `mapstructure:"port" yaml:"port"`
}

// ExtractionCfg configures the vision-model transport.
type ExtractionCfg struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Port: "8090",
		},
		Extraction: ExtractionCfg{
			BaseURL:        "https://openrouter.ai/api/v1",
			APIKey:         "${OPENROUTER_API_KEY}",
			TimeoutSeconds: 500,
			MaxRetries:     3,
		},
	}
}
