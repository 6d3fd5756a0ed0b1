// Package redis wraps go-redis/v9 for the two things the service keeps in
// Redis: rate-limit windows, run as atomic Lua scripts, and cached image
// digests, stored as plain strings with a TTL.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/config"
	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint for SCAN and the size of each UNLINK.
const scanBatch = 500

// Script is a server-side Lua script executed atomically by Redis.
type Script = redis.Script

// NewScript wraps Lua source so it can be run by EVALSHA with an EVAL
// fallback.
func NewScript(src string) *Script {
	return redis.NewScript(src)
}

// Client wraps a go-redis client.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Lookup returns the value stored at key. A missing key is reported with
// found false and a nil error.
func (c *Client) Lookup(ctx context.Context, key string) (val string, found bool, err error) {
	val, err = c.rdb.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores a value with the given TTL. A zero TTL keeps the key forever.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// RunScript executes script atomically against keys and returns its reply.
func (c *Client) RunScript(ctx context.Context, script *Script, keys []string, args ...any) (any, error) {
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

// PurgePrefix removes every key starting with prefix and returns how many
// were removed. Keys are unlinked a page at a time, so a large purge never
// blocks the server.
func (c *Client) PurgePrefix(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, errors.New("refusing to purge an empty prefix")
	}
	var removed int64
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("scanning %s*: %w", prefix, err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Unlink(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("unlinking %d keys under %s: %w", len(keys), prefix, err)
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// Ping sends a PING to Redis. Used by readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
