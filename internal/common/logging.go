package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const defaultLogFile = "logs/dashboard-feedback.log"

var (
	logger arbor.ILogger
	mu     sync.RWMutex
)

func GetLogger() arbor.ILogger {
	mu.RLock()
	if logger != nil {
		mu.RUnlock()
		return logger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Double-check after acquiring write lock
	if logger == nil {
		logger = initDefaultLogger()
	}
	return logger
}

// GetLogFilePath returns the configured log file path from the arbor logger
func GetLogFilePath() string {
	mu.RLock()
	currentLogger := logger
	mu.RUnlock()

	if currentLogger != nil {
		if logFilePath := currentLogger.GetLogFilePath(); logFilePath != "" {
			return logFilePath
		}
	}

	execPath, err := os.Executable()
	if err != nil {
		return filepath.FromSlash(defaultLogFile)
	}
	return resolveLogFile(DefaultLoggingConfig(), filepath.Dir(execPath))
}

// resolveLogFile places a relative log file beside the binary
func resolveLogFile(config *LoggingConfig, execDir string) string {
	file := config.File
	if file == "" {
		file = filepath.FromSlash(defaultLogFile)
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(execDir, file)
}

func timeFormat(config *LoggingConfig) string {
	if config.TimeFormat == "" {
		return "15:04:05"
	}
	return config.TimeFormat
}

func InitLogger(config *LoggingConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if logger != nil {
		return nil
	}

	var err error
	logger, err = createLogger(config)
	return err
}

func initDefaultLogger() arbor.ILogger {
	config := DefaultLoggingConfig()
	logger, err := createLogger(config)
	if err != nil {
		fmt.Printf("Warning: Failed to initialize default logger: %v\n", err)
		return arbor.NewLogger()
	}
	return logger
}

func createLogger(config *LoggingConfig) (arbor.ILogger, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	execDir := filepath.Dir(execPath)

	l := arbor.NewLogger()

	if config.Output == "both" || config.Output == "file" || config.Output == "" {
		logFile := resolveLogFile(config, execDir)
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create logs directory: %w", err)
		}

		l = l.WithFileWriter(models.WriterConfiguration{
			Type:             models.LogWriterTypeFile,
			FileName:         logFile,
			TimeFormat:       timeFormat(config),
			MaxSize:          int64(config.MaxSize * 1024 * 1024),
			MaxBackups:       config.MaxBackups,
			TextOutput:       config.Format != "json",
			DisableTimestamp: false,
		})
	}

	if config.Output == "both" || config.Output == "console" || config.Output == "" {
		l = l.WithConsoleWriter(models.WriterConfiguration{
			Type:             models.LogWriterTypeConsole,
			TimeFormat:       timeFormat(config),
			TextOutput:       config.Format != "json",
			DisableTimestamp: false,
		})
	}

	l = l.WithLevelFromString(config.Level)

	l.Info().Str("level", config.Level).Str("output", config.Output).Msg("Dashboard feedback logger initialized")

	return l, nil
}

func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Level:      "info",
		Format:     "text",
		Output:     "both",
		File:       filepath.FromSlash(defaultLogFile),
		TimeFormat: "15:04:05",
		MaxSize:    100,
		MaxBackups: 3,
	}
}
