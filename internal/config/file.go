package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads agent settings from an optional YAML file, then OUTBOUNDIQ_*
// environment variables, on top of FromEnv. An empty path skips the file.
// Durations follow FromEnv: a bare integer is seconds.
func Load(path string) (Config, error) {
	cfg := FromEnv()

	v := viper.New()
	v.SetEnvPrefix("OUTBOUNDIQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("api_key", cfg.Agent.APIKey)
	v.SetDefault("enabled", cfg.Agent.Enabled)
	v.SetDefault("url", cfg.Agent.URL)
	v.SetDefault("transport", cfg.Agent.Transport)
	v.SetDefault("max_items", cfg.Agent.MaxItems)
	v.SetDefault("flush_interval", cfg.Agent.FlushInterval.String())
	v.SetDefault("timeout", cfg.Agent.Timeout.String())
	v.SetDefault("retry_attempts", cfg.Agent.RetryAttempts)
	v.SetDefault("queue", cfg.Agent.Queue)
	v.SetDefault("file_path", cfg.Agent.FilePath)
	v.SetDefault("version", cfg.Agent.Version)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg.Agent.APIKey = v.GetString("api_key")
	cfg.Agent.Enabled = v.GetBool("enabled")
	cfg.Agent.URL = v.GetString("url")
	cfg.Agent.Transport = strings.ToLower(v.GetString("transport"))
	cfg.Agent.MaxItems = v.GetInt("max_items")
	cfg.Agent.FlushInterval = parseDuration(v.GetString("flush_interval"), cfg.Agent.FlushInterval)
	cfg.Agent.Timeout = parseDuration(v.GetString("timeout"), cfg.Agent.Timeout)
	cfg.Agent.RetryAttempts = v.GetInt("retry_attempts")
	cfg.Agent.Queue = v.GetString("queue")
	cfg.Agent.FilePath = v.GetString("file_path")
	cfg.Agent.Version = v.GetString("version")

	return cfg, nil
}
