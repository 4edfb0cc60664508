package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "nil config", config: nil},
		{name: "debug level", config: &Config{Level: LevelDebug, Output: &bytes.Buffer{}}},
		{name: "error level", config: &Config{Level: LevelError, Output: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelError, Output: &buf})

	logger.Info("info message")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at Error level, got: %s", buf.String())
	}

	logger.Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message to appear, got: %s", buf.String())
	}
}

func TestLoggerArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("object sealed", "id", "0102", "data_size", 8)
	output := buf.String()
	if !strings.Contains(output, "object sealed") {
		t.Errorf("expected message text, got: %s", output)
	}
	if !strings.Contains(output, "id=0102") {
		t.Errorf("expected id=0102, got: %s", output)
	}
	if !strings.Contains(output, "data_size=8") {
		t.Errorf("expected data_size=8, got: %s", output)
	}
}

func TestLoggerPrintf(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Printf("created %d objects", 3)
	if !strings.Contains(buf.String(), "created 3 objects") {
		t.Errorf("expected formatted message, got: %s", buf.String())
	}
}
