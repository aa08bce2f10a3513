package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/usersvc/pkg/fanout"
)

// ReadThrough decorates fetch with the cache. Hits are served from Redis;
// misses call fetch and store successful values for ttl. Cache failures never
// fail the fetch, they fall back to calling fetch directly.
//
// A miss only stores its value if the key was not invalidated while fetch
// ran, so writers must clear entries with Manager.Invalidate.
func ReadThrough[K comparable, V any](m *Manager, namespace string, ttl time.Duration, fetch fanout.FetchFunc[K, V]) fanout.FetchFunc[K, V] {
	return func(ctx context.Context, id K) (V, error) {
		key := KeyFor(namespace, id)
		logger := log.With().Str("component", "cache").Str("key", key.String()).Logger()

		entry, err := m.Get(ctx, key)
		switch {
		case err == nil:
			var v V
			decodeErr := entry.Decode(&v)
			if decodeErr == nil {
				logger.Debug().Msg("Cache hit")
				return v, nil
			}
			logger.Warn().Err(decodeErr).Msg("Discarding undecodable cache entry")
			if delErr := m.Delete(ctx, key); delErr != nil {
				logger.Warn().Err(delErr).Msg("Failed to delete undecodable cache entry")
			}
		case errors.Is(err, ErrCacheMiss):
			logger.Debug().Msg("Cache miss")
		default:
			logger.Warn().Err(err).Msg("Cache get error")
		}

		// Read before fetching; an invalidation during fetch changes it.
		version, versionErr := m.Version(ctx, key)
		if versionErr != nil {
			logger.Warn().Err(versionErr).Msg("Cache version unavailable, value will not be cached")
		}

		v, err := fetch(ctx, id)
		if err != nil || versionErr != nil {
			return v, err
		}

		e, err := NewEntry(v, ttl)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to encode cache entry")
			return v, nil
		}
		stored, err := m.SetIfVersion(ctx, key, e, version)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("Failed to cache value")
		case !stored:
			logger.Debug().Msg("Skipped caching value invalidated during fetch")
		}
		return v, nil
	}
}
