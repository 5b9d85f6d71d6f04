// Package memory provides an in-memory implementation of the
// tokencache.Cache interface using github.com/hashicorp/golang-lru/v2.
// It is intended for single-process deployments and tests; multi-node
// deployments should use the redis backend so all nodes share one cache.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/identware/clientauth-go/tokencache"
)

type item struct {
	entry     *tokencache.Entry
	expiresAt time.Time // zero means no expiration
}

// Cache implements the tokencache.Cache interface in process memory.
type Cache struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *item]

	closeOnce sync.Once
	done      chan struct{}
}

// New creates an in-memory token cache holding at most maxItems entries.
func New(maxItems int) (*Cache, error) {
	cache, err := lru.New[string, *item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	c := &Cache{
		cache: cache,
		done:  make(chan struct{}),
	}

	// Expired entries are dropped lazily on Get; the janitor keeps untouched
	// entries from pinning memory between lookups.
	go c.cleanupExpired()

	return c, nil
}

// Get retrieves the entry stored under key, treating expired entries as
// misses and removing them.
func (c *Cache) Get(ctx context.Context, key string) (*tokencache.Entry, error) {
	c.mu.RLock()
	it, exists := c.cache.Get(key)
	c.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	if !it.expiresAt.IsZero() && time.Now().After(it.expiresAt) {
		c.mu.Lock()
		c.cache.Remove(key)
		c.mu.Unlock()
		return nil, nil
	}

	return it.entry, nil
}

// Set stores entry under key, overwriting any existing value. A positive ttl
// sets the expiry; a non-positive ttl stores without expiration.
func (c *Cache) Set(ctx context.Context, key string, entry *tokencache.Entry, ttl time.Duration) error {
	it := &item{entry: entry}
	if ttl > 0 {
		it.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.cache.Add(key, it)
	c.mu.Unlock()

	return nil
}

// Close stops the cleanup goroutine and drops all entries.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.cache.Purge()
		c.mu.Unlock()
	})
	return nil
}

// cleanupExpired periodically removes expired entries.
func (c *Cache) cleanupExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for _, key := range c.cache.Keys() {
				if it, exists := c.cache.Peek(key); exists {
					if !it.expiresAt.IsZero() && now.After(it.expiresAt) {
						c.cache.Remove(key)
					}
				}
			}
			c.mu.Unlock()
		}
	}
}

// Compile-time interface check
var _ tokencache.Cache = (*Cache)(nil)
