package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a level name as it appears in configuration.
type LogLevel string

// Recognised level names.
const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

var levels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// Config describes where and how events are written.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console format.
	Pretty bool

	// Output defaults to os.Stderr when nil.
	Output io.Writer
}

// DefaultConfig is JSON at info level on stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

func (c Config) writer() io.Writer {
	w := c.Output
	if w == nil {
		w = os.Stderr
	}
	if c.Pretty {
		return zerolog.ConsoleWriter{Out: w}
	}
	return w
}

// New builds a timestamped logger from cfg without touching global state.
func New(cfg Config) zerolog.Logger {
	return zerolog.New(cfg.writer()).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

// Setup builds a logger with New and installs it as the process-wide default,
// including zerolog's global level.
func Setup(cfg Config) zerolog.Logger {
	logger := New(cfg)
	zerolog.SetGlobalLevel(logger.GetLevel())
	log.Logger = logger
	return logger
}

// ValidateLevel rejects names that parseLevel would otherwise treat as info.
func ValidateLevel(level LogLevel) error {
	if _, ok := levels[strings.ToLower(string(level))]; !ok {
		return fmt.Errorf("unknown log level %q", level)
	}
	return nil
}

func parseLevel(level LogLevel) zerolog.Level {
	if l, ok := levels[strings.ToLower(string(level))]; ok {
		return l
	}
	return zerolog.InfoLevel
}

// NewLogger derives a logger from the global one, tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
