// Package redis provides a Redis-based implementation of the
// tokencache.Cache interface, delegating TTL-based eviction to Redis itself.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/identware/clientauth-go/tokencache"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis cache.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "clientauth:"
	KeyPrefix string
}

// Cache implements the tokencache.Cache interface using Redis.
type Cache struct {
	client    *redis.Client
	keyPrefix string
}

// New creates a new Redis-based token cache.
func New(config Config) (*Cache, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "clientauth:"
	}

	return &Cache{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// Get retrieves the entry stored under key. A missing or expired key is a
// miss, reported as (nil, nil).
func (c *Cache) Get(ctx context.Context, key string) (*tokencache.Entry, error) {
	result := c.client.Get(ctx, c.keyPrefix+key)
	if err := result.Err(); err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	var entry tokencache.Entry
	if err := json.Unmarshal([]byte(result.Val()), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached entry: %w", err)
	}

	return &entry, nil
}

// Set stores entry under key, overwriting any existing value. A positive ttl
// becomes the Redis expiration; a non-positive ttl stores without expiry.
func (c *Cache) Set(ctx context.Context, key string, entry *tokencache.Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if ttl < 0 {
		ttl = 0
	}

	if err := c.client.Set(ctx, c.keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	return nil
}

// Close closes the underlying Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Compile-time interface check
var _ tokencache.Cache = (*Cache)(nil)
