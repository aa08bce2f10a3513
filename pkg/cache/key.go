package cache

import (
	"fmt"
	"strings"
)

// KeyPrefix prefixes every cache key so cache entries never collide with store keys.
const KeyPrefix = "cache"

// VersionPrefix prefixes the invalidation counter kept beside each entry.
const VersionPrefix = "cachever"

// Key identifies a cached value.
type Key struct {
	// Namespace groups values of one kind (e.g. "user")
	Namespace string

	// ID identifies the value within its namespace
	ID string
}

// KeyFor builds a Key from any fetch key.
func KeyFor[K comparable](namespace string, id K) Key {
	return Key{Namespace: namespace, ID: fmt.Sprint(id)}
}

// String generates the Redis key.
// Format: cache:namespace:id
//
// Example:
//
//	cache:user:42
func (k Key) String() string {
	return k.join(KeyPrefix)
}

// VersionKey is the Redis key of the counter Invalidate bumps.
// Format: cachever:namespace:id
func (k Key) VersionKey() string {
	return k.join(VersionPrefix)
}

func (k Key) join(prefix string) string {
	parts := []string{prefix}
	if ns := strings.Trim(k.Namespace, ":"); ns != "" {
		parts = append(parts, ns)
	}
	parts = append(parts, k.ID)
	return strings.Join(parts, ":")
}
