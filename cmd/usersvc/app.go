package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/usersvc/pkg/cache"
	"github.com/Sternrassler/usersvc/pkg/config"
	"github.com/Sternrassler/usersvc/pkg/fanout"
	"github.com/Sternrassler/usersvc/pkg/retry"
	"github.com/Sternrassler/usersvc/pkg/store"
)

// cacheNamespace is the cache namespace for user documents.
const cacheNamespace = "user"

// app holds the collaborators shared by the commands.
type app struct {
	redis *redis.Client
	users *store.Store
	cache *cache.Manager // nil when caching is disabled
	fetch fanout.FetchFunc[int64, *store.User]
}

// newApp connects to Redis and builds the user fetch pipeline:
// store lookup, retried on transient errors, behind the read-through cache.
func newApp(ctx context.Context, s *config.Settings) (*app, error) {
	client := redis.NewClient(s.RedisOptions())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", s.Redis.Addr, err)
	}

	a := &app{
		redis: client,
		users: store.New(client),
	}
	a.fetch = retry.Wrap(s.RetryConfig(), store.Classify, a.users.Get)
	if s.Cache.TTL > 0 {
		a.cache = cache.NewManager(client)
		a.fetch = cache.ReadThrough(a.cache, cacheNamespace, s.Cache.TTL, a.fetch)
	}
	return a, nil
}

// invalidate drops the cached copy of a user.
func (a *app) invalidate(ctx context.Context, id int64) error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Invalidate(ctx, cache.KeyFor(cacheNamespace, id))
}

func (a *app) Close() error {
	return a.redis.Close()
}
