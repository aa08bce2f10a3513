// Package cache provides a Redis-backed read-through cache for fetched values.
//
// Values are stored as JSON entries with an explicit expiry. The Redis key
// TTL is set from the entry so stale values are evicted without a sweeper.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.KeyFor("user", 42)
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the store
//	}
//
// # Read-Through Fetching
//
// ReadThrough wraps any fanout.FetchFunc so a batch only reaches the store
// for keys that are not cached:
//
//	fetch := cache.ReadThrough(manager, "user", time.Minute, users.Get)
//	result, err := fanout.FetchAll(ctx, ids, fetch, policy)
//
// Cache failures are logged and the wrapped fetch is called directly.
// Errors from the wrapped fetch are returned unchanged and never cached.
//
// # Invalidation
//
// Writers call Manager.Invalidate after changing the source. It deletes the
// entry and bumps a per-key version, so a ReadThrough miss that started
// earlier does not store its stale value.
//
// # Metrics
//
//   - cache_hits_total{namespace} - Cache hits
//   - cache_misses_total{namespace} - Cache misses
//   - cache_bytes_written_total - Bytes written to Redis
//   - cache_errors_total{operation} - Redis and decode errors
package cache
