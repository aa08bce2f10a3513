package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Expected default pretty to be false")
	}
	if cfg.Output == nil {
		t.Error("Expected default output to be set")
	}
}

func TestNew_LeavesGlobalsAlone(t *testing.T) {
	before := zerolog.GlobalLevel()
	buf := &bytes.Buffer{}

	logger := New(Config{Level: LevelError, Output: buf})
	logger.Warn().Msg("below threshold")
	logger.Error().Msg("kept")

	if zerolog.GlobalLevel() != before {
		t.Errorf("global level changed to %v", zerolog.GlobalLevel())
	}
	if logger.GetLevel() != zerolog.ErrorLevel {
		t.Errorf("level = %v, want error", logger.GetLevel())
	}
	out := buf.String()
	if strings.Contains(out, "below threshold") || !strings.Contains(out, "kept") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSetup_WritesJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Output: buf})

	logger.Info().Int("dropped", 2).Msg("batch complete")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "batch complete" {
		t.Errorf("message = %v, want %q", entry["message"], "batch complete")
	}
	if entry["dropped"] != float64(2) {
		t.Errorf("dropped = %v, want 2", entry["dropped"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("Expected timestamp field")
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})

	logger.Info().Msg("pretty message")

	out := buf.String()
	if !strings.Contains(out, "pretty message") {
		t.Errorf("Expected output to contain message, got %q", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("Expected console output, got JSON %q", out)
	}
}

func TestSetup_NilOutput(t *testing.T) {
	// Must not panic; falls back to stderr.
	logger := Setup(Config{Level: LevelError})
	logger.Debug().Msg("filtered")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidateLevel(t *testing.T) {
	for _, level := range []LogLevel{LevelDebug, LevelInfo, LevelWarn, "WARNING", LevelError} {
		if err := ValidateLevel(level); err != nil {
			t.Errorf("ValidateLevel(%q) = %v, want nil", level, err)
		}
	}

	if err := ValidateLevel("verbose"); err == nil {
		t.Error("ValidateLevel(\"verbose\") should fail")
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("fanout")
	logger.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, `"component":"fanout"`) {
		t.Errorf("Expected output to contain the fanout component field, got %q", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got %q", output)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	logger := NewLogger("store")
	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")
	logger.Error().Msg("error message")

	output := buf.String()
	for _, filtered := range []string{"debug message", "info message"} {
		if strings.Contains(output, filtered) {
			t.Errorf("%q should be filtered out at Warn level", filtered)
		}
	}
	for _, kept := range []string{"warn message", "error message"} {
		if !strings.Contains(output, kept) {
			t.Errorf("%q should be included at Warn level", kept)
		}
	}
}
