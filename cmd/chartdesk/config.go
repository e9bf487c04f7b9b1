package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chartdesk/chartdesk/internal/api"
	"github.com/chartdesk/chartdesk/internal/config"
	"github.com/chartdesk/chartdesk/internal/home"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the chartdesk config file",
	Long: `Manage the chartdesk configuration file.

The config file holds bootstrap settings: the server port and the
extraction transport (base URL, API key, timeouts). Runtime-tunable
settings (model choice, worker concurrency, pause) live in the
settings store and are managed with 'chartdesk api settings'.

Examples:
  chartdesk config init    # Write a default config to ~/.chartdesk/
  chartdesk config show    # Print the effective configuration
  chartdesk config path    # Print the config file location`,
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		path := h.ConfigPath()
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		}

		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration after merging the config file,
environment variables, and defaults. API keys are shown unexpanded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgMgr, err := config.NewManager(resolveConfigPath())
		if err != nil {
			return err
		}
		return api.Output(cfgMgr.Get())
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		fmt.Println(h.ConfigPath())
		return nil
	},
}

// resolveConfigPath picks the config file: the --config flag when set,
// else the home config when present, else empty for the search path.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if h, err := home.New(homeDir); err == nil && h.ConfigExists() {
		return h.ConfigPath()
	}
	return ""
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)

	rootCmd.AddCommand(configCmd)
}
