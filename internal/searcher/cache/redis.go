package cache

import (
	"context"
	"fmt"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/study-search/pkg/redis"
)

const liveKey = keyPrefix + "live"

// RedisStore mirrors entries in Redis under the payload: prefix. It follows
// the same clear-all policy as the memory tier: a sorted set tracks unexpired
// keys and every key is flushed once their number passes maxEntries.
type RedisStore struct {
	client     *pkgredis.Client
	ttl        time.Duration
	maxEntries int64
}

func NewRedisStore(client *pkgredis.Client, ttl time.Duration, maxEntries int) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, maxEntries: int64(maxEntries)}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := s.client.Lookup(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, ok, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	n, err := s.client.InsertTracked(ctx, key, liveKey, value, s.ttl)
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	if n <= s.maxEntries {
		return nil
	}
	if _, err := s.Clear(ctx); err != nil {
		return err
	}
	if _, err := s.client.InsertTracked(ctx, key, liveKey, value, s.ttl); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) (int64, error) {
	n, err := s.client.DeleteMatching(ctx, keyPrefix+"*")
	if err != nil {
		return n, fmt.Errorf("flushing payload keys: %w", err)
	}
	return n, nil
}
