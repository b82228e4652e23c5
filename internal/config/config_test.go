package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		expected     string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY_1",
			defaultValue: "default",
			envValue:     "env_value",
			expected:     "env_value",
		},
		{
			name:         "returns default when environment variable is not set",
			key:          "TEST_KEY_2",
			defaultValue: "default",
			expected:     "default",
		},
		{
			name:         "handles empty default value",
			key:          "TEST_KEY_3",
			defaultValue: "",
			envValue:     "env_value",
			expected:     "env_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			result := getenv(tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, result, tt.expected)
			}
		})
	}
}

func TestGetenvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected time.Duration
	}{
		{name: "go duration", envValue: "250ms", expected: 250 * time.Millisecond},
		{name: "bare seconds", envValue: "12", expected: 12 * time.Second},
		{name: "invalid falls back", envValue: "soon", expected: time.Minute},
		{name: "unset falls back", envValue: "", expected: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_DURATION", tt.envValue)
			}
			if got := getenvDuration("TEST_DURATION", time.Minute); got != tt.expected {
				t.Errorf("getenvDuration() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseBackoffSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		expected []time.Duration
	}{
		{name: "empty uses default", schedule: "", expected: []time.Duration{5 * time.Second}},
		{name: "single", schedule: "2s", expected: []time.Duration{2 * time.Second}},
		{name: "list with spaces", schedule: "1s, 5s ,30s", expected: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}},
		{name: "skips invalid parts", schedule: "1s,bogus,3s", expected: []time.Duration{time.Second, 3 * time.Second}},
		{name: "all invalid uses default", schedule: "a,b", expected: []time.Duration{5 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseBackoffSchedule(tt.schedule)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("parseBackoffSchedule(%q) = %v, want %v", tt.schedule, got, tt.expected)
			}
		})
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.Agent.URL != DefaultURL {
		t.Errorf("URL = %q, want %q", cfg.Agent.URL, DefaultURL)
	}
	if cfg.Agent.Transport != TransportAsync {
		t.Errorf("Transport = %q, want %q", cfg.Agent.Transport, TransportAsync)
	}
	if cfg.Agent.MaxItems != 100 {
		t.Errorf("MaxItems = %d, want 100", cfg.Agent.MaxItems)
	}
	if cfg.Worker.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Worker.MaxAttempts)
	}
	if cfg.Agent.Queue != DefaultTopic {
		t.Errorf("Queue = %q, want %q", cfg.Agent.Queue, DefaultTopic)
	}
	if cfg.Worker.HTTPPort != ":8083" {
		t.Errorf("HTTPPort = %q, want :8083", cfg.Worker.HTTPPort)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("OUTBOUNDIQ_API_KEY", "sk_test")
	t.Setenv("OUTBOUNDIQ_ENABLED", "false")
	t.Setenv("OUTBOUNDIQ_TRANSPORT", "QUEUE")
	t.Setenv("OUTBOUNDIQ_MAX_ITEMS", "7")
	t.Setenv("OUTBOUNDIQ_TIMEOUT", "3")
	t.Setenv("OUTBOUNDIQ_QUEUE", "metrics")
	t.Setenv("MAX_ATTEMPTS", "5")
	t.Setenv("BACKOFF_SCHEDULE", "1s,2s")
	t.Setenv("WORKER_HTTP_PORT", ":9090")
	t.Setenv("PERSIST_DEAD_LETTERS", "true")

	cfg := FromEnv()

	if cfg.Agent.APIKey != "sk_test" {
		t.Errorf("APIKey = %q", cfg.Agent.APIKey)
	}
	if cfg.Agent.Enabled {
		t.Error("Enabled = true, want false")
	}
	if cfg.Agent.Transport != TransportQueue {
		t.Errorf("Transport = %q, want queue", cfg.Agent.Transport)
	}
	if cfg.Agent.MaxItems != 7 {
		t.Errorf("MaxItems = %d, want 7", cfg.Agent.MaxItems)
	}
	if cfg.Agent.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", cfg.Agent.Timeout)
	}
	if cfg.Agent.Queue != "metrics" {
		t.Errorf("Queue = %q, want metrics", cfg.Agent.Queue)
	}
	if cfg.Worker.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Worker.MaxAttempts)
	}
	if len(cfg.Worker.BackoffSchedule) != 2 {
		t.Errorf("BackoffSchedule = %v", cfg.Worker.BackoffSchedule)
	}
	if cfg.Worker.HTTPPort != ":9090" {
		t.Errorf("HTTPPort = %q, want :9090", cfg.Worker.HTTPPort)
	}
	if !cfg.DB.PersistDeadLetter {
		t.Error("PersistDeadLetter = false, want true")
	}
}

func TestAgentValidate(t *testing.T) {
	valid := Defaults().Agent
	valid.APIKey = "sk_test"

	tests := []struct {
		name    string
		mutate  func(a *Agent)
		wantErr error
	}{
		{name: "valid", mutate: func(a *Agent) {}},
		{name: "disabled", mutate: func(a *Agent) { a.Enabled = false }, wantErr: ErrDisabled},
		{name: "missing key", mutate: func(a *Agent) { a.APIKey = "  " }, wantErr: ErrMissingAPIKey},
		{name: "unknown transport", mutate: func(a *Agent) { a.Transport = "carrier-pigeon" }, wantErr: ErrUnknownTransport},
		{name: "each transport is known", mutate: func(a *Agent) { a.Transport = TransportFile }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			tt.mutate(&a)
			err := a.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAgentBaseURL(t *testing.T) {
	tests := []struct {
		url     string
		base    string
		pingURL string
	}{
		{url: "https://agent.outboundiq.dev/api/metric", base: "https://agent.outboundiq.dev/api", pingURL: "https://agent.outboundiq.dev/api/ping"},
		{url: "http://localhost:8081/api/metric/", base: "http://localhost:8081/api", pingURL: "http://localhost:8081/api/ping"},
		{url: "http://localhost:8081", base: "http://localhost:8081", pingURL: "http://localhost:8081/ping"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			a := Agent{URL: tt.url}
			if got := a.BaseURL(); got != tt.base {
				t.Errorf("BaseURL() = %q, want %q", got, tt.base)
			}
			if got := a.PingURL(); got != tt.pingURL {
				t.Errorf("PingURL() = %q, want %q", got, tt.pingURL)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := Config{DB: DB{User: "u", Pass: "p", Host: "h", Port: "1", Name: "n"}}
	want := "postgres://u:p@h:1/n?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outboundiq.yaml")
	content := []byte("api_key: sk_file\ntransport: sync\nmax_items: 25\nflush_interval: 2s\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.APIKey != "sk_file" {
		t.Errorf("APIKey = %q, want sk_file", cfg.Agent.APIKey)
	}
	if cfg.Agent.Transport != TransportSync {
		t.Errorf("Transport = %q, want sync", cfg.Agent.Transport)
	}
	if cfg.Agent.MaxItems != 25 {
		t.Errorf("MaxItems = %d, want 25", cfg.Agent.MaxItems)
	}
	if cfg.Agent.FlushInterval != 2*time.Second {
		t.Errorf("FlushInterval = %v, want 2s", cfg.Agent.FlushInterval)
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outboundiq.yaml")
	if err := os.WriteFile(path, []byte("api_key: sk_file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OUTBOUNDIQ_API_KEY", "sk_env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.APIKey != "sk_env" {
		t.Errorf("APIKey = %q, want sk_env", cfg.Agent.APIKey)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.URL != DefaultURL {
		t.Errorf("URL = %q, want default", cfg.Agent.URL)
	}
}

func TestLoadDurations(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		env         map[string]string
		wantFlush   time.Duration
		wantTimeout time.Duration
	}{
		{
			name:        "bare integers in env are seconds",
			env:         map[string]string{"OUTBOUNDIQ_FLUSH_INTERVAL": "5", "OUTBOUNDIQ_TIMEOUT": "10"},
			wantFlush:   5 * time.Second,
			wantTimeout: 10 * time.Second,
		},
		{
			name:        "go durations in env",
			env:         map[string]string{"OUTBOUNDIQ_FLUSH_INTERVAL": "250ms", "OUTBOUNDIQ_TIMEOUT": "1m"},
			wantFlush:   250 * time.Millisecond,
			wantTimeout: time.Minute,
		},
		{
			name:        "bare integers in file are seconds",
			file:        "flush_interval: 3\ntimeout: 4\n",
			wantFlush:   3 * time.Second,
			wantTimeout: 4 * time.Second,
		},
		{
			name:        "env beats file",
			file:        "timeout: 4\n",
			env:         map[string]string{"OUTBOUNDIQ_TIMEOUT": "2"},
			wantFlush:   Defaults().Agent.FlushInterval,
			wantTimeout: 2 * time.Second,
		},
		{
			name:        "garbage keeps default",
			env:         map[string]string{"OUTBOUNDIQ_TIMEOUT": "soon"},
			wantFlush:   Defaults().Agent.FlushInterval,
			wantTimeout: Defaults().Agent.Timeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OUTBOUNDIQ_FLUSH_INTERVAL", "")
			t.Setenv("OUTBOUNDIQ_TIMEOUT", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = filepath.Join(t.TempDir(), "outboundiq.yaml")
				if err := os.WriteFile(path, []byte(tt.file), 0o600); err != nil {
					t.Fatal(err)
				}
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Agent.FlushInterval != tt.wantFlush {
				t.Errorf("FlushInterval = %v, want %v", cfg.Agent.FlushInterval, tt.wantFlush)
			}
			if cfg.Agent.Timeout != tt.wantTimeout {
				t.Errorf("Timeout = %v, want %v", cfg.Agent.Timeout, tt.wantTimeout)
			}
		})
	}
}
