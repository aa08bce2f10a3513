package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// envOverride maps one environment variable onto a field of Settings.
type envOverride struct {
	key   string
	apply func(*Settings, string) error
}

// envOverrides lists every environment variable Load honours.
var envOverrides = []envOverride{
	{"PORT", func(s *Settings, v string) (err error) {
		s.Port, err = strconv.Atoi(v)
		return err
	}},
	{"REDIS_URL", func(s *Settings, v string) error {
		return s.Redis.setURL(v)
	}},
	{"REDIS_PASSWORD", func(s *Settings, v string) error {
		s.Redis.Password = v
		return nil
	}},
	{"REDIS_DB", func(s *Settings, v string) (err error) {
		s.Redis.DB, err = strconv.Atoi(v)
		return err
	}},
	{"CONCURRENCY_LIMIT", func(s *Settings, v string) (err error) {
		s.Fanout.Concurrency, err = strconv.Atoi(v)
		return err
	}},
	{"DB_QUERY_TIMEOUT_SECS", func(s *Settings, v string) error {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		s.Fanout.PerItemTimeout = time.Duration(secs * float64(time.Second))
		return nil
	}},
	{"FAIL_FAST", func(s *Settings, v string) (err error) {
		s.Fanout.FailFast, err = parseBool(v)
		return err
	}},
	{"CACHE_TTL", func(s *Settings, v string) (err error) {
		s.Cache.TTL, err = time.ParseDuration(v)
		return err
	}},
	{"RETRY_MAX_ATTEMPTS", func(s *Settings, v string) (err error) {
		s.Retry.MaxAttempts, err = strconv.Atoi(v)
		return err
	}},
	{"LOG_LEVEL", func(s *Settings, v string) error {
		s.Log.Level = strings.ToLower(v)
		return nil
	}},
	{"LOG_PRETTY", func(s *Settings, v string) (err error) {
		s.Log.Pretty, err = parseBool(v)
		return err
	}},
}

// applyEnv applies every set, non-empty variable. A value that does not parse
// is an error rather than a silent fallback to the default.
func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		v, ok := lookup(o.key)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(s, v); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidSettings, o.key, v, err)
		}
	}
	return nil
}

// setURL accepts either a host:port address or a redis:// or rediss:// URL.
// A URL also sets the credentials, DB and TLS.
func (r *RedisSettings) setURL(v string) error {
	if !strings.Contains(v, "://") {
		r.Addr = v
		return nil
	}

	opts, err := redis.ParseURL(v)
	if err != nil {
		return err
	}
	r.Addr = opts.Addr
	r.Username = opts.Username
	r.Password = opts.Password
	r.DB = opts.DB
	r.TLS = opts.TLSConfig != nil
	return nil
}

// parseBool accepts "true", "1", "yes" and "false", "0", "no" (case-insensitive).
func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean")
}
