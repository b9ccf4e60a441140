package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/metrics"
)

const keyPrefix = "payload:"

// Store is an optional second tier shared between replicas.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Clear(ctx context.Context) (int64, error)
}

type Stats struct {
	Entries    int   `json:"entries"`
	MaxEntries int   `json:"max_entries"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
	Mirrored   bool  `json:"mirrored"`
}

// QueryCache holds computed values by canonical key. The in-memory map is
// cleared entirely when it reaches MaxEntries; values are stored and
// returned by copy, so callers must not share mutable state inside V.
type QueryCache[V any] struct {
	mu         sync.Mutex
	entries    map[string]V
	maxEntries int
	store      Store
	group      singleflight.Group
	metrics    *metrics.Metrics
	logger     *slog.Logger
	hits       atomic.Int64
	misses     atomic.Int64
	evictions  atomic.Int64
}

func New[V any](cfg config.CacheConfig, store Store, m *metrics.Metrics) *QueryCache[V] {
	maxEntries := cfg.MaxEntries
	if maxEntries < 1 {
		maxEntries = 256
	}
	return &QueryCache[V]{
		entries:    make(map[string]V),
		maxEntries: maxEntries,
		store:      store,
		metrics:    m,
		logger:     slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache[V]) Get(ctx context.Context, key string) (V, bool) {
	c.mu.Lock()
	v, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		c.hit()
		return v, true
	}
	if v, ok := c.fromStore(ctx, key); ok {
		c.put(key, v)
		c.hit()
		return v, true
	}
	c.miss()
	var zero V
	return zero, false
}

func (c *QueryCache[V]) Set(ctx context.Context, key string, v V) {
	c.put(key, v)
	if c.store == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data); err != nil {
		c.logger.Error("cache mirror set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached value for key or computes it once, even
// under concurrent misses for the same key. The bool reports a hit.
//
// The shared computation runs under whichever caller got there first. When
// it fails because that caller's context ended, callers whose own context
// is still live compute again instead of inheriting the error.
func (c *QueryCache[V]) GetOrCompute(ctx context.Context, key string, computeFn func() (V, error)) (V, bool, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, true, nil
	}
	for {
		val, err, shared := c.group.Do(key, func() (interface{}, error) {
			c.mu.Lock()
			v, ok := c.entries[key]
			c.mu.Unlock()
			if ok {
				return v, nil
			}
			v, err := computeFn()
			if err != nil {
				return nil, err
			}
			c.Set(ctx, key, v)
			return v, nil
		})
		if err == nil {
			return val.(V), false, nil
		}
		if shared && isContextErr(err) && ctx.Err() == nil {
			continue
		}
		var zero V
		return zero, false, err
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Invalidate drops every entry locally and in the mirror.
func (c *QueryCache[V]) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	dropped := len(c.entries)
	c.entries = make(map[string]V)
	c.mu.Unlock()
	c.setEntries(0)

	var mirrored int64
	if c.store != nil {
		n, err := c.store.Clear(ctx)
		if err != nil {
			return err
		}
		mirrored = n
	}
	c.logger.Info("cache invalidated", "entries_dropped", dropped, "mirror_keys_deleted", mirrored)
	return nil
}

func (c *QueryCache[V]) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Entries:    n,
		MaxEntries: c.maxEntries,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
		Mirrored:   c.store != nil,
	}
}

func (c *QueryCache[V]) put(key string, v V) {
	c.mu.Lock()
	evicted := 0
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		evicted = len(c.entries)
		c.entries = make(map[string]V)
	}
	c.entries[key] = v
	n := len(c.entries)
	c.mu.Unlock()

	c.setEntries(n)
	if evicted > 0 {
		c.evictions.Add(1)
		if c.metrics != nil {
			c.metrics.CacheEvictionsTotal.Inc()
		}
		c.logger.Info("cache cleared at capacity", "evicted", evicted, "max_entries", c.maxEntries)
	}
}

func (c *QueryCache[V]) fromStore(ctx context.Context, key string) (V, bool) {
	var v V
	if c.store == nil {
		return v, false
	}
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Error("cache mirror get failed", "key", key, "error", err)
		return v, false
	}
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return v, false
	}
	return v, true
}

func (c *QueryCache[V]) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache[V]) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *QueryCache[V]) setEntries(n int) {
	if c.metrics != nil {
		c.metrics.CacheEntries.Set(float64(n))
	}
}
