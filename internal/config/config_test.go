package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// TestNewConfig tests creating a config with defaults
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	if cfg == nil {
		t.Fatal("NewConfig() returned nil")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Popup.SettleDelay != time.Second {
		t.Errorf("Expected default settle delay 1s, got %v", cfg.Popup.SettleDelay)
	}
	if cfg.Subscription.Interval != time.Second {
		t.Errorf("Expected default reconcile interval 1s, got %v", cfg.Subscription.Interval)
	}
	if cfg.Bridge.PagePath != "/ws/page" || cfg.Bridge.UIPath != "/ws/ui" {
		t.Errorf("Unexpected bridge paths %q %q", cfg.Bridge.PagePath, cfg.Bridge.UIPath)
	}
	if !reflect.DeepEqual(cfg.Bridge.UIOrigins, []string{"chrome-extension://checko"}) {
		t.Errorf("Unexpected default ui origins %v", cfg.Bridge.UIOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
			errMsg:  "invalid log level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
			errMsg:  "invalid log format",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
			errMsg:  "database path is required",
		},
		{
			name:    "bridge port out of range",
			mutate:  func(c *Config) { c.Bridge.Port = 70000 },
			wantErr: true,
			errMsg:  "invalid bridge port",
		},
		{
			name:    "same page and ui path",
			mutate:  func(c *Config) { c.Bridge.UIPath = c.Bridge.PagePath },
			wantErr: true,
			errMsg:  "must differ",
		},
		{
			name:    "wildcard ui origin",
			mutate:  func(c *Config) { c.Bridge.UIOrigins = []string{"*"} },
			wantErr: true,
			errMsg:  "invalid bridge ui origin",
		},
		{
			name:    "ui without origins or token",
			mutate:  func(c *Config) { c.Bridge.UIOrigins = []string{} },
			wantErr: true,
			errMsg:  "ui_origins or ui_token",
		},
		{
			name: "ui token only",
			mutate: func(c *Config) {
				c.Bridge.UIOrigins = []string{}
				c.Bridge.UIToken = "secret"
			},
		},
		{
			name:    "negative settle delay",
			mutate:  func(c *Config) { c.Popup.SettleDelay = -time.Second },
			wantErr: true,
			errMsg:  "settle delay",
		},
		{
			name:    "zero interval",
			mutate:  func(c *Config) { c.Subscription.Interval = 0 },
			wantErr: true,
			errMsg:  "subscription interval",
		},
		{
			name: "backoff inverted",
			mutate: func(c *Config) {
				c.Subscription.ReconnectMinBackoff = time.Minute
				c.Subscription.ReconnectMaxBackoff = time.Second
			},
			wantErr: true,
			errMsg:  "backoff",
		},
		{
			name:    "bad ws schema",
			mutate:  func(c *Config) { c.Network.WSSchema = "http" },
			wantErr: true,
			errMsg:  "ws schema",
		},
		{
			name:    "redis without address",
			mutate:  func(c *Config) { c.Relay.Redis.Enabled = true },
			wantErr: true,
			errMsg:  "redis relay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.errMsg)
			}
		})
	}
}

// TestLoadFromEnv tests loading configuration from environment variables
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CHECKO_LOG_LEVEL", "debug")
	t.Setenv("CHECKO_LOG_FORMAT", "console")
	t.Setenv("CHECKO_DB_PATH", "/data/checko")
	t.Setenv("CHECKO_BRIDGE_PORT", "9000")
	t.Setenv("CHECKO_BRIDGE_CORS_ENABLED", "true")
	t.Setenv("CHECKO_BRIDGE_CORS_ALLOWED_ORIGINS", "chrome-extension://abc, https://app.example.com")
	t.Setenv("CHECKO_BRIDGE_UI_ORIGINS", "chrome-extension://abc")
	t.Setenv("CHECKO_BRIDGE_UI_TOKEN", "secret")
	t.Setenv("CHECKO_POPUP_LAUNCH_COMMAND", "xdg-open --new-window")
	t.Setenv("CHECKO_POPUP_SETTLE_DELAY", "250ms")
	t.Setenv("CHECKO_SUBSCRIPTION_INTERVAL", "2s")
	t.Setenv("CHECKO_NETWORK_HOST", "10.0.0.1")
	t.Setenv("CHECKO_RELAY_REDIS_ENABLED", "true")
	t.Setenv("CHECKO_RELAY_REDIS_ADDR", "localhost:6379")

	cfg := NewConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("Unexpected log config %+v", cfg.Log)
	}
	if cfg.Database.Path != "/data/checko" {
		t.Errorf("Expected db path '/data/checko', got %q", cfg.Database.Path)
	}
	if cfg.Bridge.Port != 9000 || !cfg.Bridge.EnableCORS {
		t.Errorf("Unexpected bridge config %+v", cfg.Bridge)
	}
	wantOrigins := []string{"chrome-extension://abc", "https://app.example.com"}
	if !reflect.DeepEqual(cfg.Bridge.AllowedOrigins, wantOrigins) {
		t.Errorf("Expected origins %v, got %v", wantOrigins, cfg.Bridge.AllowedOrigins)
	}
	if !reflect.DeepEqual(cfg.Bridge.UIOrigins, []string{"chrome-extension://abc"}) || cfg.Bridge.UIToken != "secret" {
		t.Errorf("Unexpected ui auth %v %q", cfg.Bridge.UIOrigins, cfg.Bridge.UIToken)
	}
	if !reflect.DeepEqual(cfg.Popup.LaunchCommand, []string{"xdg-open", "--new-window"}) {
		t.Errorf("Unexpected launch command %v", cfg.Popup.LaunchCommand)
	}
	if cfg.Popup.SettleDelay != 250*time.Millisecond {
		t.Errorf("Expected settle delay 250ms, got %v", cfg.Popup.SettleDelay)
	}
	if cfg.Subscription.Interval != 2*time.Second {
		t.Errorf("Expected interval 2s, got %v", cfg.Subscription.Interval)
	}
	if cfg.Network.Host != "10.0.0.1" {
		t.Errorf("Expected network host '10.0.0.1', got %q", cfg.Network.Host)
	}
	if !cfg.Relay.Redis.Enabled || cfg.Relay.Redis.Addr != "localhost:6379" {
		t.Errorf("Unexpected redis config %+v", cfg.Relay.Redis)
	}
}

func TestLoadFromEnvInvalidValues(t *testing.T) {
	tests := []struct {
		env   string
		value string
	}{
		{"CHECKO_BRIDGE_PORT", "eighty"},
		{"CHECKO_POPUP_SETTLE_DELAY", "soon"},
		{"CHECKO_DB_READONLY", "maybe"},
		{"CHECKO_BRIDGE_RATE_LIMIT", "fast"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			err := NewConfig().LoadFromEnv()
			if err == nil {
				t.Fatal("Expected error for invalid env value")
			}
			if !strings.Contains(err.Error(), tt.env) {
				t.Errorf("Error %q should name %s", err.Error(), tt.env)
			}
		})
	}
}

// TestLoadFromFile tests loading configuration from a YAML file
func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log:
  level: warn
  format: console
database:
  path: /var/lib/checko
bridge:
  port: 7000
  rate_limit_per_second: 5
popup:
  url: chrome-extension://wallet/popup.html
  launch_command: ["chromium", "--app"]
  settle_delay: 500ms
network:
  name: Local
  host: 127.0.0.1
  port: 9001
  path: devnet
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := NewConfig()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Expected log level 'warn', got %q", cfg.Log.Level)
	}
	if cfg.Bridge.Port != 7000 || cfg.Bridge.RateLimitPerSecond != 5 {
		t.Errorf("Unexpected bridge config %+v", cfg.Bridge)
	}
	if cfg.Popup.SettleDelay != 500*time.Millisecond {
		t.Errorf("Expected settle delay 500ms, got %v", cfg.Popup.SettleDelay)
	}
	if !reflect.DeepEqual(cfg.Popup.LaunchCommand, []string{"chromium", "--app"}) {
		t.Errorf("Unexpected launch command %v", cfg.Popup.LaunchCommand)
	}
	if cfg.Network.Path != "devnet" || cfg.Network.Port != 9001 {
		t.Errorf("Unexpected network config %+v", cfg.Network)
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(configFile, []byte("log: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := NewConfig()
	if err := cfg.LoadFromFile(configFile); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

// TestConfigPriority tests that env overrides file which overrides defaults
func TestConfigPriority(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
log:
  level: warn
bridge:
  port: 7000
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("CHECKO_BRIDGE_PORT", "7100")

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Expected file log level 'warn', got %q", cfg.Log.Level)
	}
	if cfg.Bridge.Port != 7100 {
		t.Errorf("Expected env port 7100, got %d", cfg.Bridge.Port)
	}
	if cfg.Node.Timeout != 30*time.Second {
		t.Errorf("Expected default node timeout 30s, got %v", cfg.Node.Timeout)
	}
}

func TestLoadWithEmptyFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bridge.Port != 8765 {
		t.Errorf("Expected default port 8765, got %d", cfg.Bridge.Port)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("log:\n  level: loud\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configFile); err == nil {
		t.Error("Expected validation error")
	}
}
