package memcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/goliatone/go-bankauth/core"
)

const (
	DefaultNumCounters int64 = 100_000
	DefaultMaxCost     int64 = 10_000
)

type Config struct {
	NumCounters int64
	MaxCost     int64
}

// Cache is a process-local core.TokenCache. Every entry costs 1, so MaxCost
// bounds the number of cached keys.
type Cache struct {
	entries *ristretto.Cache[string, core.CacheEntry]
}

func New(cfg Config) (*Cache, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = DefaultNumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = DefaultMaxCost
	}
	entries, err := ristretto.NewCache(&ristretto.Config[string, core.CacheEntry]{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("memcache: failed to initialize cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

func (c *Cache) Get(_ context.Context, key string) (core.CacheEntry, bool) {
	if c == nil || c.entries == nil {
		return core.CacheEntry{}, false
	}
	return c.entries.Get(strings.TrimSpace(key))
}

func (c *Cache) Put(_ context.Context, key string, entry core.CacheEntry, ttl time.Duration) error {
	if c == nil || c.entries == nil {
		return fmt.Errorf("memcache: cache is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("memcache: key is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("memcache: ttl must be positive")
	}
	if !c.entries.SetWithTTL(key, entry, 1, ttl) {
		return fmt.Errorf("memcache: entry for %s was rejected", key)
	}
	// sets are buffered; wait so the next Get observes this entry
	c.entries.Wait()
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	if c == nil || c.entries == nil {
		return nil
	}
	c.entries.Del(strings.TrimSpace(key))
	return nil
}

func (c *Cache) Close() {
	if c == nil || c.entries == nil {
		return
	}
	c.entries.Close()
}

var _ core.TokenCache = (*Cache)(nil)
