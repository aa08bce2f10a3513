// Package config loads service settings from an optional YAML file followed by
// environment variable overrides.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/usersvc/pkg/fanout"
	"github.com/Sternrassler/usersvc/pkg/logging"
	"github.com/Sternrassler/usersvc/pkg/retry"
)

// ErrInvalidSettings is wrapped by every validation error returned by Load and Validate.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings is the complete service configuration.
type Settings struct {
	Port   int            `yaml:"port"`
	Redis  RedisSettings  `yaml:"redis"`
	Fanout FanoutSettings `yaml:"fanout"`
	Cache  CacheSettings  `yaml:"cache"`
	Retry  RetrySettings  `yaml:"retry"`
	Log    LogSettings    `yaml:"log"`
}

// RedisSettings configures the Redis connection shared by the store and the cache.
type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
}

// FanoutSettings configures batch fetches.
type FanoutSettings struct {
	Concurrency    int           `yaml:"concurrency"`
	PerItemTimeout time.Duration `yaml:"per_item_timeout"`
	FailFast       bool          `yaml:"fail_fast"`
}

// CacheSettings configures the read-through cache. A zero TTL disables it.
type CacheSettings struct {
	TTL time.Duration `yaml:"ttl"`
}

// RetrySettings configures retries of transient store errors.
// MaxAttempts of 1 disables retries.
type RetrySettings struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// LogSettings configures the global logger.
type LogSettings struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the settings used when neither a file nor the environment set a value.
func Default() *Settings {
	policy := fanout.DefaultPolicy()
	rc := retry.DefaultConfig()
	return &Settings{
		Port: 8080,
		Redis: RedisSettings{
			Addr: "localhost:6379",
		},
		Fanout: FanoutSettings{
			Concurrency:    policy.MaxConcurrency,
			PerItemTimeout: policy.PerItemTimeout,
			FailFast:       policy.FailFast,
		},
		Cache: CacheSettings{
			TTL: 60 * time.Second,
		},
		Retry: RetrySettings{
			MaxAttempts:    rc.MaxAttempts,
			InitialBackoff: rc.InitialBackoff,
			MaxBackoff:     rc.MaxBackoff,
		},
		Log: LogSettings{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load builds the settings from defaults, the YAML file at path (skipped when
// path is empty) and the environment, in that order, and validates the result.
func Load(path string) (*Settings, error) {
	s := Default()

	if path != "" {
		if err := s.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := s.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}
	return nil
}

// Validate checks every section and returns the first problem found.
func (s *Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidSettings, s.Port)
	}
	if s.Redis.Addr == "" {
		return fmt.Errorf("%w: redis address is empty", ErrInvalidSettings)
	}
	if s.Redis.DB < 0 {
		return fmt.Errorf("%w: redis db must be >= 0", ErrInvalidSettings)
	}
	if err := s.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: fanout: %w", ErrInvalidSettings, err)
	}
	if s.Cache.TTL < 0 {
		return fmt.Errorf("%w: cache ttl must be >= 0", ErrInvalidSettings)
	}
	if s.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry max_attempts must be >= 1", ErrInvalidSettings)
	}
	if s.Retry.InitialBackoff < 0 || s.Retry.MaxBackoff < s.Retry.InitialBackoff {
		return fmt.Errorf("%w: retry backoff must satisfy 0 <= initial <= max", ErrInvalidSettings)
	}
	if err := logging.ValidateLevel(logging.LogLevel(s.Log.Level)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (s *Settings) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// Policy returns the fan-out policy for batch fetches.
func (s *Settings) Policy() fanout.Policy {
	return fanout.Policy{
		MaxConcurrency: s.Fanout.Concurrency,
		PerItemTimeout: s.Fanout.PerItemTimeout,
		FailFast:       s.Fanout.FailFast,
	}
}

// RetryConfig returns the retry configuration for store lookups.
func (s *Settings) RetryConfig() retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = s.Retry.MaxAttempts
	rc.InitialBackoff = s.Retry.InitialBackoff
	rc.MaxBackoff = s.Retry.MaxBackoff
	return rc
}

// LoggingConfig returns the logger configuration. Output is left to logging.Setup.
func (s *Settings) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  logging.LogLevel(s.Log.Level),
		Pretty: s.Log.Pretty,
	}
}

// RedisOptions returns the go-redis client options.
func (s *Settings) RedisOptions() *redis.Options {
	opts := &redis.Options{
		Addr:     s.Redis.Addr,
		Username: s.Redis.Username,
		Password: s.Redis.Password,
		DB:       s.Redis.DB,
	}
	if s.Redis.TLS {
		host, _, err := net.SplitHostPort(s.Redis.Addr)
		if err != nil {
			host = s.Redis.Addr
		}
		opts.TLSConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	return opts
}
