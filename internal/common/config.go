package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Service ServiceConfig `toml:"service"`
	Backend BackendConfig `toml:"backend"`
	Capture CaptureConfig `toml:"capture"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
}

type ServiceConfig struct {
	Name        string `toml:"name"`
	Environment string `toml:"environment"`
	Port        int    `toml:"port"`
	PagesDir    string `toml:"pages_dir"`

	// SessionIdleMinutes closes widget sessions left unused this long
	SessionIdleMinutes int `toml:"session_idle_minutes"`
}

// BackendConfig points at the managed platform that stores screenshots and
// runs the analysis function. URL and APIKey are both required for the
// feedback feature to be available.
type BackendConfig struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	Bucket         string `toml:"bucket"`
	Function       string `toml:"function"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type CaptureConfig struct {
	RemoteDebugPort  int      `toml:"remote_debug_port"`
	PageURL          string   `toml:"page_url"`
	OverlaySelectors []string `toml:"overlay_selectors"`
	SettleDelayMs    int      `toml:"settle_delay_ms"`
	TimeoutSeconds   int      `toml:"timeout_seconds"`
}

type StorageConfig struct {
	DatabasePath  string `toml:"database_path"`
	RetentionDays int    `toml:"retention_days"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
	// File is the log file path; relative paths resolve beside the binary
	File       string `toml:"file"`
	TimeFormat string `toml:"time_format"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
}

func DefaultConfig() *Config {
	execPath, _ := os.Executable()
	execDir := filepath.Dir(execPath)
	execName := filepath.Base(execPath)
	execName = execName[:len(execName)-len(filepath.Ext(execName))]

	defaultDBPath := filepath.Join(execDir, "data", execName+".db")

	return &Config{
		Service: ServiceConfig{
			Name:               execName,
			Environment:        "development",
			Port:               8085,
			PagesDir:           "pages",
			SessionIdleMinutes: 30,
		},
		Backend: BackendConfig{
			Bucket:         "screenshots",
			Function:       "process-feedback",
			TimeoutSeconds: 60,
		},
		Capture: CaptureConfig{
			RemoteDebugPort: 9222,
			OverlaySelectors: []string{
				"#feedback-modal-container",
				"#floating-feedback-button",
			},
			SettleDelayMs:  100,
			TimeoutSeconds: 30,
		},
		Storage: StorageConfig{
			DatabasePath:  defaultDBPath,
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "both",
			File:       filepath.Join("logs", execName+".log"),
			TimeFormat: "15:04:05",
			MaxSize:    100,
			MaxBackups: 3,
		},
	}
}

func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile == "" {
		execPath, _ := os.Executable()
		execDir := filepath.Dir(execPath)
		execName := filepath.Base(execPath)
		execName = execName[:len(execName)-len(filepath.Ext(execName))]

		possiblePaths := []string{
			filepath.Join(execDir, execName+".toml"),
			filepath.Join(execDir, "config.toml"),
			"config.toml",
		}

		for _, path := range possiblePaths {
			if _, err := os.Stat(path); err == nil {
				configFile = path
				break
			}
		}
	}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if url := firstEnv("FEEDBACK_BACKEND_URL", "SUPABASE_URL"); url != "" {
		config.Backend.URL = url
	}
	if key := firstEnv("FEEDBACK_BACKEND_API_KEY", "SUPABASE_ANON_KEY"); key != "" {
		config.Backend.APIKey = key
	}
	if pageURL := os.Getenv("FEEDBACK_PAGE_URL"); pageURL != "" {
		config.Capture.PageURL = pageURL
	}

	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		config.Storage.DatabasePath = dbPath
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		config.Logging.Format = logFormat
	}
	if logOutput := os.Getenv("LOG_OUTPUT"); logOutput != "" {
		config.Logging.Output = logOutput
	}
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		config.Logging.File = logFile
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		if portNum, err := strconv.Atoi(port); err == nil {
			config.Service.Port = portNum
		}
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return ""
}

// Validate rejects configurations the service cannot start with. A missing
// backend URL or API key is not a validation failure: it disables the
// feedback feature instead (see BackendStatus).
func (c *Config) Validate() error {
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage database_path is required")
	}

	if c.Service.Port <= 0 {
		c.Service.Port = 8085
	}
	if c.Service.SessionIdleMinutes <= 0 {
		c.Service.SessionIdleMinutes = 30
	}
	if c.Backend.Bucket == "" {
		return fmt.Errorf("backend bucket is required")
	}
	if c.Backend.Function == "" {
		return fmt.Errorf("backend function is required")
	}
	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = 60
	}
	if c.Capture.TimeoutSeconds <= 0 {
		c.Capture.TimeoutSeconds = 30
	}
	if c.Capture.SettleDelayMs < 0 {
		return fmt.Errorf("capture settle_delay_ms must not be negative")
	}

	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	validLevel := false
	for _, level := range validLogLevels {
		if c.Logging.Level == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	if c.Logging.Output != "console" && strings.TrimSpace(c.Logging.File) == "" {
		return fmt.Errorf("logging file is required when output is %s", c.Logging.Output)
	}

	validOutputs := []string{"console", "file", "both"}
	validOutput := false
	for _, output := range validOutputs {
		if c.Logging.Output == output {
			validOutput = true
			break
		}
	}
	if !validOutput {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	return nil
}

// BackendStatus reports whether the backend settings are complete.
func (c *Config) BackendStatus() error {
	return c.Backend.Status()
}

// Status returns an initialization error naming the missing values, or nil
// when both the URL and the API key are set.
func (b BackendConfig) Status() error {
	var missing []string
	if strings.TrimSpace(b.URL) == "" {
		missing = append(missing, "backend url")
	}
	if strings.TrimSpace(b.APIKey) == "" {
		missing = append(missing, "backend api_key")
	}
	if len(missing) == 0 {
		return nil
	}
	return NewInitializationError("backend_not_configured", "Feedback is unavailable: backend is not configured").
		WithDetails("missing " + strings.Join(missing, ", "))
}

// MaskedAPIKey returns the API key with all but the last four characters
// replaced, for display.
func (b BackendConfig) MaskedAPIKey() string {
	if b.APIKey == "" {
		return ""
	}
	if len(b.APIKey) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(b.APIKey)-4) + b.APIKey[len(b.APIKey)-4:]
}

func (c *Config) IsProduction() bool {
	return c.Service.Environment == "production"
}
