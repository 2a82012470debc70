// Package cache provides the key/value store behind read-through lookups.
// Entries are an optimization only; callers must invalidate on every write
// and never use a cached value to decide uniqueness or cooldowns.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}
