package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-bankauth/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/redis/go-redis/v9"
)

// Client is the slice of the go-redis API the cache needs. *redis.Client and
// *redis.ClusterClient both satisfy it.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Option func(*Cache)

func WithLogger(logger core.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// Cache stores entries as JSON under the manager's cache keys so several
// service instances share one view of the active tokens.
type Cache struct {
	client Client
	logger core.Logger
}

func New(client Client, opts ...Option) (*Cache, error) {
	if client == nil {
		return nil, fmt.Errorf("rediscache: client is required")
	}
	c := &Cache{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = glog.Ensure(c.logger)
	return c, nil
}

// NewFromAddr dials a single redis node.
func NewFromAddr(addr string, password string, db int, opts ...Option) (*Cache, *redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil, fmt.Errorf("rediscache: address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	cache, err := New(client, opts...)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return cache, client, nil
}

// Get treats connectivity and decode failures as a miss.
func (c *Cache) Get(ctx context.Context, key string) (core.CacheEntry, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis cache read failed", "cache_key", key, "error", err.Error())
		}
		return core.CacheEntry{}, false
	}
	var entry core.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("redis cache entry is malformed", "cache_key", key, "error", err.Error())
		return core.CacheEntry{}, false
	}
	if strings.TrimSpace(entry.Token) == "" {
		return core.CacheEntry{}, false
	}
	return entry, true
}

func (c *Cache) Put(ctx context.Context, key string, entry core.CacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("rediscache: ttl must be positive")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("rediscache: encode entry: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("rediscache: del %s: %w", key, err)
	}
	return nil
}

var _ core.TokenCache = (*Cache)(nil)
