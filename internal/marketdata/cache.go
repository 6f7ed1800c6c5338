package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zxc3309/lockup-calculator/internal/metrics"
	"github.com/zxc3309/lockup-calculator/internal/model"
)

// Cache is a byte cache with per-entry TTLs. MemoryCache backs tests
// and single-node runs; RedisCache shares entries across replicas.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration)
}

// MemoryCache is a process-local Cache. Expired entries are dropped
// lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.data, true
}

func (c *MemoryCache) Set(_ context.Context, key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{data: data, expiresAt: time.Now().Add(ttl)}
}

// RedisCache adapts a redis client to Cache. Redis failures read as
// misses so the caller falls through to the live provider.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache wraps an existing redis client.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *RedisCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) {
	c.rdb.Set(ctx, key, data, ttl)
}

// TTLConfig sets how long each kind of market data stays fresh.
type TTLConfig struct {
	Spot     time.Duration
	Chain    time.Duration
	Expiries time.Duration
	History  time.Duration
	Rate     time.Duration
}

// DefaultTTLs balances freshness against provider rate limits: spot
// moves fast, Treasury yields change once a day.
func DefaultTTLs() TTLConfig {
	return TTLConfig{
		Spot:     30 * time.Second,
		Chain:    time.Minute,
		Expiries: 5 * time.Minute,
		History:  time.Hour,
		Rate:     time.Hour,
	}
}

// CachedSource wraps a Source with a read-through cache. Reads check
// the cache first and fall back to the live source; successful live
// reads re-populate the cache. Errors are never cached.
type CachedSource struct {
	source Source
	cache  Cache
	ttl    TTLConfig
}

// NewCachedSource creates a cached wrapper around a live source.
func NewCachedSource(source Source, cache Cache, ttl TTLConfig) *CachedSource {
	return &CachedSource{
		source: source,
		cache:  cache,
		ttl:    ttl,
	}
}

func (s *CachedSource) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	key := spotKey(symbol)
	if s.readCached(ctx, key, "spot", &price) {
		return price, nil
	}

	price, err := s.source.SpotPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	s.writeCached(ctx, key, price, s.ttl.Spot)
	return price, nil
}

func (s *CachedSource) Expiries(ctx context.Context, symbol string) ([]time.Time, error) {
	var expiries []time.Time
	key := expiriesKey(symbol)
	if s.readCached(ctx, key, "expiries", &expiries) {
		return expiries, nil
	}

	expiries, err := s.source.Expiries(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.writeCached(ctx, key, expiries, s.ttl.Expiries)
	return expiries, nil
}

func (s *CachedSource) OptionChain(ctx context.Context, symbol string, expiry time.Time) ([]model.OptionContract, error) {
	var contracts []model.OptionContract
	key := chainKey(symbol, expiry)
	if s.readCached(ctx, key, "chain", &contracts) {
		return contracts, nil
	}

	contracts, err := s.source.OptionChain(ctx, symbol, expiry)
	if err != nil {
		return nil, err
	}
	s.writeCached(ctx, key, contracts, s.ttl.Chain)
	return contracts, nil
}

func (s *CachedSource) PriceHistory(ctx context.Context, symbol string, days int) ([]float64, error) {
	var prices []float64
	key := historyKey(symbol, days)
	if s.readCached(ctx, key, "history", &prices) {
		return prices, nil
	}

	prices, err := s.source.PriceHistory(ctx, symbol, days)
	if err != nil {
		return nil, err
	}
	s.writeCached(ctx, key, prices, s.ttl.History)
	return prices, nil
}

func (s *CachedSource) RiskFreeRate(ctx context.Context, lockupDays int) (float64, error) {
	var rate float64
	key := rateKey(lockupDays)
	if s.readCached(ctx, key, "rate", &rate) {
		return rate, nil
	}

	rate, err := s.source.RiskFreeRate(ctx, lockupDays)
	if err != nil {
		return 0, err
	}
	s.writeCached(ctx, key, rate, s.ttl.Rate)
	return rate, nil
}

// --- Cache helpers ---

func (s *CachedSource) readCached(ctx context.Context, key, kind string, out any) bool {
	data, ok := s.cache.Get(ctx, key)
	if !ok {
		metrics.CacheMisses.WithLabelValues(kind).Inc()
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		metrics.CacheMisses.WithLabelValues(kind).Inc()
		return false
	}
	metrics.CacheHits.WithLabelValues(kind).Inc()
	return true
}

func (s *CachedSource) writeCached(ctx context.Context, key string, v any, ttl time.Duration) {
	if data, err := json.Marshal(v); err == nil {
		s.cache.Set(ctx, key, data, ttl)
	}
}

func spotKey(symbol string) string     { return fmt.Sprintf("spot:%s", symbol) }
func expiriesKey(symbol string) string { return fmt.Sprintf("expiries:%s", symbol) }
func historyKey(symbol string, days int) string {
	return fmt.Sprintf("history:%s:%d", symbol, days)
}
func rateKey(lockupDays int) string { return fmt.Sprintf("rate:%d", lockupDays) }
func chainKey(symbol string, expiry time.Time) string {
	return fmt.Sprintf("chain:%s:%s", symbol, expiry.UTC().Format("2006-01-02"))
}
