package common

import (
	"path/filepath"
	"testing"
)

func TestResolveLogFile(t *testing.T) {
	execDir := filepath.Join("opt", "feedback")
	abs, _ := filepath.Abs(filepath.Join("var", "log", "feedback.log"))

	tests := []struct {
		name string
		file string
		want string
	}{
		{"default", "", filepath.Join(execDir, "logs", "dashboard-feedback.log")},
		{"relative", filepath.Join("logs", "widget.log"), filepath.Join(execDir, "logs", "widget.log")},
		{"absolute", abs, abs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveLogFile(&LoggingConfig{File: tt.file}, execDir); got != tt.want {
				t.Errorf("resolveLogFile() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTimeFormatDefault(t *testing.T) {
	if got := timeFormat(&LoggingConfig{}); got != "15:04:05" {
		t.Errorf("expected default time format, got %q", got)
	}
	if got := timeFormat(&LoggingConfig{TimeFormat: "2006-01-02 15:04:05"}); got != "2006-01-02 15:04:05" {
		t.Errorf("expected configured time format, got %q", got)
	}
}
