package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// versionTTL bounds how long an invalidation counter outlives its last bump.
// It must exceed the longest fetch that can run between Version and SetIfVersion.
const versionTTL = time.Hour

// Manager handles caching operations with Redis backend.
type Manager struct {
	redis *redis.Client
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis: redisClient,
	}
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(key.Namespace).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Redis expiry is authoritative but may lag by a few milliseconds.
	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.WithLabelValues(key.Namespace).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(key.Namespace).Inc()
	return &entry, nil
}

// Set stores a cache entry with TTL based on the entry's Expires field.
// Already expired entries are not stored.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheBytesWritten.Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Version returns the invalidation counter of key. A missing counter is 0.
func (m *Manager) Version(ctx context.Context, key Key) (int64, error) {
	return readVersion(ctx, m.redis, key)
}

func readVersion(ctx context.Context, c redis.Cmdable, key Key) (int64, error) {
	v, err := c.Get(ctx, key.VersionKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		CacheErrors.WithLabelValues("version").Inc()
		return 0, fmt.Errorf("redis get version: %w", err)
	}
	return v, nil
}

// SetIfVersion stores entry only if key has not been invalidated since
// version was read. It reports whether the entry was written.
func (m *Manager) SetIfVersion(ctx context.Context, key Key, entry *Entry, version int64) (bool, error) {
	if entry == nil {
		return false, fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return false, nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return false, fmt.Errorf("marshal cache entry: %w", err)
	}

	stored := false
	err = m.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key.String(), data, ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, key.VersionKey())

	switch {
	case errors.Is(err, redis.TxFailedErr):
		// invalidated while the transaction was open
		return false, nil
	case err != nil:
		CacheErrors.WithLabelValues("set").Inc()
		return false, fmt.Errorf("redis set: %w", err)
	}

	if stored {
		CacheBytesWritten.Add(float64(len(data)))
	}
	return stored, nil
}

// Invalidate removes the entry and bumps its version, so reads that started
// before the call cannot store what they fetched.
func (m *Manager) Invalidate(ctx context.Context, key Key) error {
	_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key.VersionKey())
		pipe.Expire(ctx, key.VersionKey(), versionTTL)
		pipe.Del(ctx, key.String())
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("invalidate").Inc()
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}
