// Package cache provides the two-tier memoization layer: an in-process
// LRU of immutable reference-data derivations and an optional external
// Redis tier for expensive cross-job computations. Keys are content
// fingerprints, so a config change always misses. Cached values are
// treated as deep-immutable; nothing is mutated after insertion.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

const DefaultSize = 512

// Cache is safe for concurrent use.
type Cache struct {
	lru *lru.Cache[string, any]
	rdb *redis.Client
	ttl time.Duration
}

// New creates a cache with the given LRU capacity. rdb may be nil to run
// with the in-process tier only.
func New(size int, rdb *redis.Client, ttl time.Duration) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	l, err := lru.New[string, any](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Cache{lru: l, rdb: rdb, ttl: ttl}, nil
}

// Fingerprint returns a canonical content hash of its parts, suitable as
// a cache key. Parts must be JSON-serializable.
func Fingerprint(parts ...any) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, part := range parts {
		// Encoding cannot fail for the plain values we fingerprint.
		_ = enc.Encode(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GetOrCompute returns the cached value for key, consulting the LRU,
// then Redis, then computing. Computed values back-populate both tiers.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, compute func() (T, error)) (T, error) {
	var zero T
	if v, ok := c.lru.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var typed T
			if err := json.Unmarshal(data, &typed); err == nil {
				c.lru.Add(key, typed)
				return typed, nil
			}
		} else if err != redis.Nil {
			log.Printf("[Cache] Redis get failed for %s: %v", key, err)
		}
	}

	value, err := compute()
	if err != nil {
		return zero, err
	}

	c.lru.Add(key, value)
	if c.rdb != nil {
		data, err := json.Marshal(value)
		if err == nil {
			if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
				log.Printf("[Cache] Redis set failed for %s: %v", key, err)
			}
		}
	}
	return value, nil
}

// Len returns the number of entries in the in-process tier.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Contains reports whether the in-process tier holds key.
func (c *Cache) Contains(key string) bool {
	return c.lru.Contains(key)
}
