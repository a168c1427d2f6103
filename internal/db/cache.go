package db

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a Redis-backed byte cache with a fixed TTL. The resolver uses
// it to keep preference-service responses warm between polls.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// ConnectCache parses the Redis URL, verifies the connection, and returns
// the cache. A zero ttl means entries never expire.
func ConnectCache(ctx context.Context, url string, ttl time.Duration) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Get returns the cached value and whether it was present. Transport
// failures read as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set stores the value with the cache TTL. Failures are ignored; the
// cache is an optimization, not a store of record.
func (c *Cache) Set(ctx context.Context, key string, value []byte) {
	_ = c.client.Set(ctx, key, value, c.ttl).Err()
}

// Ping verifies the Redis connection for the health check.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
