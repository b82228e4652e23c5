package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/austindbirch/outboundiq/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective agent configuration",
	Long: `Print the configuration the agent would run with after the config file,
OUTBOUNDIQ_* environment variables and flags are applied. The API key is
masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		view := configView(cfg.Agent)
		if err := cfg.Agent.Validate(); err != nil {
			view["problem"] = err.Error()
		}
		if cfgFile != "" {
			view["config_file"] = cfgFile
		}

		out := cmd.OutOrStdout()
		if !outputJSON {
			fmt.Fprintln(out, "Current configuration:")
		}
		printOutput(out, view)
		return nil
	},
}

func configView(a config.Agent) map[string]any {
	return map[string]any{
		"api_key":        maskKey(a.APIKey),
		"enabled":        a.Enabled,
		"url":            a.URL,
		"transport":      a.Transport,
		"max_items":      a.MaxItems,
		"flush_interval": a.FlushInterval.String(),
		"timeout":        a.Timeout.String(),
		"retry_attempts": a.RetryAttempts,
		"queue":          a.Queue,
		"file_path":      a.FilePath,
		"version":        a.Version,
	}
}

// maskKey keeps the last four characters of key.
func maskKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 4:
		return "****"
	default:
		return "****" + key[len(key)-4:]
	}
}

func init() {
	rootCmd.AddCommand(configCmd)
}
