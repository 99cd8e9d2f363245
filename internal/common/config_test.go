package common

import (
	"os"
	"path/filepath"
	"testing"
)

func clearBackendEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"FEEDBACK_BACKEND_URL", "SUPABASE_URL", "FEEDBACK_BACKEND_API_KEY", "SUPABASE_ANON_KEY", "FEEDBACK_PAGE_URL", "SERVER_PORT", "LOG_LEVEL", "LOG_OUTPUT", "LOG_FILE"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	clearBackendEnv(t)

	path := filepath.Join(t.TempDir(), "feedback.toml")
	content := `
[service]
port = 9090

[backend]
url = "https://example.supabase.co"
api_key = "anon-key"
bucket = "shots"

[capture]
page_url = "http://localhost:3000/dashboard"

[storage]
database_path = "/tmp/feedback-test.db"

[logging]
level = "debug"
output = "console"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Service.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Service.Port)
	}
	if cfg.Backend.Bucket != "shots" {
		t.Errorf("expected bucket shots, got %s", cfg.Backend.Bucket)
	}
	if cfg.Backend.Function != "process-feedback" {
		t.Errorf("expected default function, got %s", cfg.Backend.Function)
	}
	if cfg.Service.SessionIdleMinutes != 30 {
		t.Errorf("expected default idle minutes, got %d", cfg.Service.SessionIdleMinutes)
	}
	if err := cfg.BackendStatus(); err != nil {
		t.Errorf("expected backend to be configured: %v", err)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("SUPABASE_URL", "https://fallback.supabase.co")
	t.Setenv("FEEDBACK_BACKEND_URL", "https://primary.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("SERVER_PORT", "9191")
	t.Setenv("LOG_FILE", "/var/log/feedback.log")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Backend.URL != "https://primary.supabase.co" {
		t.Errorf("expected primary url, got %s", cfg.Backend.URL)
	}
	if cfg.Backend.APIKey != "anon" {
		t.Errorf("expected fallback key, got %s", cfg.Backend.APIKey)
	}
	if cfg.Service.Port != 9191 {
		t.Errorf("expected port 9191, got %d", cfg.Service.Port)
	}
	if cfg.Logging.File != "/var/log/feedback.log" {
		t.Errorf("expected log file override, got %s", cfg.Logging.File)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"missing backend is allowed", func(c *Config) { c.Backend.URL = ""; c.Backend.APIKey = "" }, false},
		{"missing database path", func(c *Config) { c.Storage.DatabasePath = "" }, true},
		{"missing bucket", func(c *Config) { c.Backend.Bucket = "" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad log output", func(c *Config) { c.Logging.Output = "printer" }, true},
		{"negative settle delay", func(c *Config) { c.Capture.SettleDelayMs = -1 }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"file output without file", func(c *Config) { c.Logging.File = "" }, true},
		{"console output without file", func(c *Config) { c.Logging.File = ""; c.Logging.Output = "console" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBackendStatus(t *testing.T) {
	err := BackendConfig{URL: "https://example.supabase.co"}.Status()
	if !IsType(err, ErrorTypeInitialization) {
		t.Fatalf("expected initialization error, got %v", err)
	}
	if UserMessage(err) != "Feedback is unavailable: backend is not configured" {
		t.Errorf("unexpected message %q", UserMessage(err))
	}

	if err := (BackendConfig{URL: " ", APIKey: "key"}).Status(); err == nil {
		t.Error("blank url should count as missing")
	}
}

func TestMaskedAPIKey(t *testing.T) {
	tests := map[string]string{
		"":                "",
		"abc":             "****",
		"abcd1234":        "****1234",
		"anon-key-123456": "***********3456",
	}
	for key, want := range tests {
		if got := (BackendConfig{APIKey: key}).MaskedAPIKey(); got != want {
			t.Errorf("MaskedAPIKey(%q) = %q, want %q", key, got, want)
		}
	}
}
