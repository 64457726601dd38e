package predictor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ModelCache stores serialized fitted models between runs.
type ModelCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// MemoryCache is an in-process ModelCache.
type MemoryCache struct {
	mu sync.Mutex
	m  map[string]memoryEntry
}

type memoryEntry struct {
	b   []byte
	exp time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || (!e.exp.IsZero() && time.Now().After(e.exp)) {
		return nil, false, nil
	}
	return e.b, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{b: append([]byte(nil), value...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
	return nil
}

// RedisCache keeps fitted models in redis under a key prefix.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdb, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// BreakerCache guards a remote cache with a circuit breaker. While the
// breaker is open, or whenever the primary fails, the fallback serves.
type BreakerCache struct {
	primary  ModelCache
	fallback ModelCache
	breaker  *gobreaker.CircuitBreaker
}

// NewBreakerCache creates a breaker that opens after consecutiveFailures
// failed calls and probes again after timeout.
func NewBreakerCache(primary, fallback ModelCache, consecutiveFailures uint32, timeout time.Duration) *BreakerCache {
	settings := gobreaker.Settings{
		Name:        "model-cache",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Model cache circuit breaker state changed")
		},
	}
	return &BreakerCache{
		primary:  primary,
		fallback: fallback,
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

type cacheHit struct {
	b  []byte
	ok bool
}

func (c *BreakerCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		b, ok, err := c.primary.Get(ctx, key)
		return cacheHit{b: b, ok: ok}, err
	})
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Model cache primary unavailable, using fallback")
		return c.fallback.Get(ctx, key)
	}
	hit := res.(cacheHit)
	if !hit.ok {
		return c.fallback.Get(ctx, key)
	}
	return hit.b, true, nil
}

func (c *BreakerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.fallback.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.primary.Set(ctx, key, value, ttl)
	})
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Model cache primary write skipped")
	}
	return nil
}

// State exposes the breaker state for health reporting.
func (c *BreakerCache) State() gobreaker.State {
	return c.breaker.State()
}

// CacheConfig selects and tunes the model cache.
type CacheConfig struct {
	Addr             string
	Password         string
	DB               int
	Prefix           string
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// NewAutoCache uses redis when Addr is set and reachable, guarded by a
// breaker with an in-process fallback. Otherwise it returns a memory cache.
func NewAutoCache(ctx context.Context, cfg CacheConfig) ModelCache {
	if cfg.Addr == "" {
		return NewMemoryCache()
	}
	client, err := DialRedis(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unavailable, caching models in memory")
		return NewMemoryCache()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "changecast:"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return NewBreakerCache(NewRedisCache(client, cfg.Prefix), NewMemoryCache(), cfg.FailureThreshold, cfg.OpenTimeout)
}
