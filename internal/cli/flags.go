package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"refsession/internal/config"
)

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	// ConfigPath is the YAML config file. Empty means the default location.
	ConfigPath string
	// BaseURL overrides api.baseURL.
	BaseURL string
	// LogLevel overrides logLevel.
	LogLevel string
	// Ephemeral keeps the session in memory for this invocation only.
	Ephemeral bool
	// Quiet suppresses spinners and non-essential output.
	Quiet bool
}

// RegisterGlobalFlags registers the persistent flags on cmd.
//
// The registered flags are:
//   - --config: Config file (default ~/.config/refsession/config.yaml)
//   - --base-url: Portal API base URL (env: REFSESSION_BASE_URL)
//   - --log-level: debug, info, warn or error (env: REFSESSION_LOG_LEVEL)
//   - --ephemeral: Keep the session in memory only
//   - --quiet/-q: Suppress non-essential output
func RegisterGlobalFlags(cmd *cobra.Command, flags *GlobalFlags) {
	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "Config file (default ~/.config/refsession/config.yaml)")
	cmd.PersistentFlags().StringVar(&flags.BaseURL, "base-url", "", "Portal API base URL (env: REFSESSION_BASE_URL)")
	cmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn or error (env: REFSESSION_LOG_LEVEL)")
	cmd.PersistentFlags().BoolVar(&flags.Ephemeral, "ephemeral", false, "Keep the session in memory for this invocation only")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-essential output")
}

// LoadConfig loads the configuration and applies the flag overrides on top.
func (f *GlobalFlags) LoadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(f.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}

	if f.BaseURL != "" {
		cfg.API.BaseURL = f.BaseURL
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.Ephemeral {
		cfg.Storage.Backend = "memory"
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}
