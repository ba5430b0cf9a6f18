// Package cache memoizes read-mostly external lookups (provider variant
// catalogs) with a per-entry TTL. It is never used for job state.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type Cache[T any] struct {
	c *gocache.Cache
}

// New creates a cache with the given default TTL and background sweep
// interval. Expired entries are also treated as misses on read.
func New[T any](defaultTTL, sweepInterval time.Duration) *Cache[T] {
	return &Cache[T]{c: gocache.New(defaultTTL, sweepInterval)}
}

func (c *Cache[T]) Get(key string) (T, bool) {
	v, ok := c.c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	c.c.Set(key, value, ttl)
}

// SetDefault stores value under the cache's default TTL.
func (c *Cache[T]) SetDefault(key string, value T) {
	c.c.SetDefault(key, value)
}
