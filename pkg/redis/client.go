// Package redis wraps go-redis/v9 with the handful of operations the shared
// payload mirror needs: lookups, tracked inserts and prefix flushes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/config"
)

const scanBatch = 100

// insertTracked stores KEYS[1] only when it is absent. The sorted set at
// KEYS[2] holds every stored key scored by its expiry in unix milliseconds;
// members whose expiry has passed are dropped first, so the returned size
// counts live keys only. It returns 0 when the key existed.
var insertTracked = redis.NewScript(`
local ttl = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', now)
local ok
if ttl > 0 then
  ok = redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ttl)
else
  ok = redis.call('SET', KEYS[1], ARGV[1], 'NX')
end
if not ok then
  return 0
end
local expires = '+inf'
if ttl > 0 then
  expires = now + ttl
end
redis.call('ZADD', KEYS[2], expires, KEYS[1])
return redis.call('ZCARD', KEYS[2])
`)

// Client is a pooled connection to one Redis database.
type Client struct {
	rdb *redis.Client
}

// NewClient connects and verifies the server answers PING within five
// seconds.
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

// Lookup returns the value at key. A missing key is not an error.
func (c *Client) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return data, true, nil
}

// InsertTracked stores value at key unless the key already exists and records
// it in the liveKey set. It returns the number of unexpired keys in the set,
// or zero when nothing was written. A zero ttl keeps the key until flushed.
func (c *Client) InsertTracked(ctx context.Context, key, liveKey string, value []byte, ttl time.Duration) (int64, error) {
	now := time.Now().UnixMilli()
	return insertTracked.Run(ctx, c.rdb, []string{key, liveKey}, value, ttl.Milliseconds(), now).Int64()
}

// DeleteMatching unlinks every key matching the glob pattern, one scan page
// per pipeline, and returns how many were removed.
func (c *Client) DeleteMatching(ctx context.Context, pattern string) (int64, error) {
	var (
		deleted int64
		cursor  uint64
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("scanning %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Unlink(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("unlinking %d keys: %w", len(keys), err)
			}
			deleted += n
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
