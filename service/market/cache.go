package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/brojonat/solwatch/service/metrics"
)

// ErrCacheMiss indicates the key was not found in cache.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores JSON-encodable values with a TTL.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) error {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("failed to get from cache: %w", err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// MemoryCache is a process-local Cache used when Redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context, key string, dest any) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(e.data, dest)
}

func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	e := memoryEntry{data: data}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// cachedLookup memoises successful lookups. Failures are not cached so a
// transient outage does not pin a mint to "unavailable" for a full TTL.
type cachedLookup struct {
	cache   Cache
	ttl     time.Duration
	group   singleflight.Group
	name    string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func (c *cachedLookup) do(ctx context.Context, key string, dest any, fetch func() (any, error)) error {
	err := c.cache.Get(ctx, key, dest)
	switch {
	case err == nil:
		c.record("hit")
		return nil
	case errors.Is(err, ErrCacheMiss):
		c.record("miss")
	default:
		c.record("error")
		c.logger.Warn("enrichment cache read failed", "key", key, "error", err)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		if serr := c.cache.Set(ctx, key, v, c.ttl); serr != nil {
			c.logger.Warn("enrichment cache write failed", "key", key, "error", serr)
		}
		return v, nil
	})
	if err != nil {
		return err
	}

	// Round-trip through JSON so dest gets the same shape as a cache hit.
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (c *cachedLookup) record(result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheResult(c.name, result)
	}
}

// CachedSymbols decorates a SymbolResolver with a Cache.
type CachedSymbols struct {
	next   SymbolResolver
	lookup *cachedLookup
}

// NewCachedSymbols wraps next.
func NewCachedSymbols(next SymbolResolver, cache Cache, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *CachedSymbols {
	return &CachedSymbols{
		next:   next,
		lookup: &cachedLookup{cache: cache, ttl: ttl, name: "symbol", logger: logger, metrics: m},
	}
}

func (c *CachedSymbols) ResolveSymbol(ctx context.Context, mint string) (string, error) {
	var sym string
	err := c.lookup.do(ctx, "solwatch:symbol:"+mint, &sym, func() (any, error) {
		return c.next.ResolveSymbol(ctx, mint)
	})
	return sym, err
}

// CachedMarketData decorates a MarketData source with a Cache.
type CachedMarketData struct {
	next    MarketData
	lookup  *cachedLookup
	metrics *metrics.Metrics
}

// NewCachedMarketData wraps next.
func NewCachedMarketData(next MarketData, cache Cache, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *CachedMarketData {
	return &CachedMarketData{
		next:    next,
		lookup:  &cachedLookup{cache: cache, ttl: ttl, name: "market_cap", logger: logger, metrics: m},
		metrics: m,
	}
}

func (c *CachedMarketData) MarketCapUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var mcap decimal.Decimal
	err := c.lookup.do(ctx, "solwatch:mcap:"+symbol, &mcap, func() (any, error) {
		return c.next.MarketCapUSD(ctx, symbol)
	})
	if c.metrics != nil {
		c.metrics.RecordEnrichment("market_cap", err)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return mcap, nil
}
