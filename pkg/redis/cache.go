package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a cache key does not exist
var ErrCacheMiss = errors.New("cache miss")

// Cache is a TTL-bound JSON cache on top of the Redis client. It backs the
// fetcher's response cache so repeated page loads within the TTL never hit
// the upstream API.
type Cache struct {
	client    *Client
	keyPrefix string
	ttl       time.Duration
}

// NewCache creates a new Cache with the given key prefix and default TTL
func NewCache(client *Client, keyPrefix string, ttl time.Duration) *Cache {
	if keyPrefix == "" {
		keyPrefix = "cache:"
	}
	return &Cache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// GetJSON reads a cached value into dest. Returns ErrCacheMiss if absent.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, c.keyPrefix+key)
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

// SetJSON stores a value under the key with the cache's default TTL
func (c *Cache) SetJSON(ctx context.Context, key string, value any) error {
	return c.SetJSONWithTTL(ctx, key, value, c.ttl)
}

// SetJSONWithTTL stores a value under the key with an explicit TTL
func (c *Cache) SetJSONWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.keyPrefix+key, string(data), ttl)
}

// Delete removes a cached value
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.keyPrefix+key)
}
