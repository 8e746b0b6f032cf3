package cache

import (
	"context"
	"sync"
	"time"

	"github.com/gridwx/weather-grid-service/internal/dataset"
)

// Cache defines the interface for forecast report caching implementations.
// Get returns a cached report if present and not expired, Set stores one with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (dataset.Report, bool, error)
	Set(ctx context.Context, key string, value dataset.Report, ttl time.Duration) error
}

// InMemoryCache implements Cache using an in-memory map with TTL-based
// expiration. Expired entries are removed on access. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
}

// cacheEntry stores a cached report with its expiration timestamp.
type cacheEntry struct {
	value     dataset.Report
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves a cached report for the key if present and not expired.
// Returns (report, true, nil) on cache hit, (zero, false, nil) on miss or
// expiration. Expired entries are removed from the cache.
func (c *InMemoryCache) Get(ctx context.Context, key string) (dataset.Report, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return dataset.Report{}, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if cur, ok := c.data[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return dataset.Report{}, false, nil
	}

	return entry.value, true, nil
}

// Set stores a report in the cache with the specified TTL duration.
// The entry expires after the TTL elapses and is removed on next Get access.
func (c *InMemoryCache) Set(ctx context.Context, key string, value dataset.Report, ttl time.Duration) error {
	c.mu.Lock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}
