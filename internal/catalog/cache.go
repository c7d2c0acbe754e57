package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"labflow/internal/config"
	"labflow/internal/constants"
	"labflow/internal/logger"
	"labflow/pkg/circuitbreaker"
	"labflow/pkg/metrics"
)

// Cache stores lookup results. A cached nil entry records a miss.
type Cache interface {
	Get(ctx context.Context, key string) (entry *Entry, found bool, err error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	Size(ctx context.Context, prefix string) (int, error)
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET failed: %w", err)
	}

	var entry *Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached catalog entry %s: %w", key, err)
	}
	return entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode catalog entry: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

func (c *RedisCache) Size(ctx context.Context, prefix string) (int, error) {
	iter := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}

// CircuitBreakerCache trips after repeated cache failures so lookups go
// straight to the database while Redis is down.
type CircuitBreakerCache struct {
	cache Cache
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerCache(cache Cache, cfg config.CircuitBreakerConfig) *CircuitBreakerCache {
	if !cfg.Enabled {
		return &CircuitBreakerCache{cache: cache}
	}

	return &CircuitBreakerCache{
		cache: cache,
		cb: circuitbreaker.NewWrapper(circuitbreaker.ConfigFromOptions("redis-catalog", circuitbreaker.Options{
			MaxRequests:  cfg.MaxRequests,
			Interval:     cfg.Interval,
			Timeout:      cfg.Timeout,
			FailureRatio: cfg.FailureRatio,
			MinRequests:  cfg.MinRequests,
		})),
	}
}

type cacheHit struct {
	entry *Entry
	found bool
}

func (c *CircuitBreakerCache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	hit, err := circuitbreaker.Do(ctx, c.cb, func() (cacheHit, error) {
		entry, found, err := c.cache.Get(ctx, key)
		return cacheHit{entry: entry, found: found}, err
	})
	if err != nil {
		return nil, false, c.wrapOpen(err)
	}
	return hit.entry, hit.found, nil
}

func (c *CircuitBreakerCache) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	_, err := circuitbreaker.Do(ctx, c.cb, func() (struct{}, error) {
		return struct{}{}, c.cache.Set(ctx, key, entry, ttl)
	})
	return c.wrapOpen(err)
}

func (c *CircuitBreakerCache) Size(ctx context.Context, prefix string) (int, error) {
	size, err := circuitbreaker.Do(ctx, c.cb, func() (int, error) {
		return c.cache.Size(ctx, prefix)
	})
	return size, c.wrapOpen(err)
}

func (c *CircuitBreakerCache) wrapOpen(err error) error {
	if err == nil {
		return nil
	}
	if c.cb != nil && c.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for redis-catalog: %w", err)
	}
	return err
}

func (c *CircuitBreakerCache) State() string {
	if c.cb == nil {
		return "disabled"
	}
	return c.cb.State().String()
}

// CachedLookup is a read-through cache in front of another Lookup. Cache
// failures fall back to the underlying lookup.
type CachedLookup struct {
	base   Lookup
	cache  Cache
	ttl    time.Duration
	prefix string
	logger logger.Logger
}

func NewCachedLookup(base Lookup, cache Cache, cfg config.CatalogConfig, log logger.Logger) *CachedLookup {
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = constants.DefaultTTLSeconds * time.Second
	}
	prefix := cfg.CacheKeyPrefix
	if prefix == "" {
		prefix = constants.CacheKeyPrefixCatalog
	}
	return &CachedLookup{base: base, cache: cache, ttl: ttl, prefix: prefix, logger: log}
}

func (l *CachedLookup) FindByLocalCode(ctx context.Context, code string) (*Entry, error) {
	return l.lookup(ctx, "local", code, l.base.FindByLocalCode)
}

func (l *CachedLookup) FindByStandardCode(ctx context.Context, code string) (*Entry, error) {
	return l.lookup(ctx, "standard", code, l.base.FindByStandardCode)
}

func (l *CachedLookup) FindByName(ctx context.Context, name string) (*Entry, error) {
	return l.lookup(ctx, "name", name, l.base.FindByName)
}

func (l *CachedLookup) key(kind, value string) string {
	return l.prefix + kind + ":" + normalize(value)
}

func (l *CachedLookup) lookup(ctx context.Context, kind, value string, load func(context.Context, string) (*Entry, error)) (*Entry, error) {
	key := l.key(kind, value)

	entry, found, err := l.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.CatalogCacheRequestsTotal.WithLabelValues("error").Inc()
		metrics.FallbackUsageTotal.WithLabelValues("catalog", "direct_lookup", "cache_error").Inc()
		l.logger.Warnw("Catalog cache read failed, querying catalog directly", "key", key, "error", err)
		return load(ctx, value)
	case found:
		metrics.CatalogCacheRequestsTotal.WithLabelValues("hit").Inc()
		return entry, nil
	}

	metrics.CatalogCacheRequestsTotal.WithLabelValues("miss").Inc()
	entry, err = load(ctx, value)
	if err != nil {
		return nil, err
	}

	if err := l.cache.Set(ctx, key, entry, l.ttl); err != nil {
		l.logger.Warnw("Failed to cache catalog entry", "key", key, "error", err)
	}
	return entry, nil
}

// ReportSize refreshes the cache size gauge every interval until ctx ends.
func (l *CachedLookup) ReportSize(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size, err := l.cache.Size(ctx, l.prefix)
			if err != nil {
				l.logger.Debugw("Failed to read catalog cache size", "error", err)
				continue
			}
			metrics.SetCatalogCacheSize(size)
		}
	}
}
