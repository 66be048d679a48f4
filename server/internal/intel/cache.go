package intel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyberpulse/cyberpulse/server/internal/config"
)

const cacheKeyPrefix = "cyberpulse:intel:"

// Cache stores reputations between lookups.
type Cache interface {
	Get(ctx context.Context, ip string) (Reputation, bool, error)
	Set(ctx context.Context, rep Reputation, ttl time.Duration) error
}

// RedisCache is a Cache backed by Redis string keys with expiry.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to the Redis instance named by cfg. The connection is
// lazy; errors surface on first use.
func NewRedisCache(cfg config.CacheConfig) *RedisCache {
	return &RedisCache{rdb: redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.Password(),
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})}
}

func cacheKey(ip string) string { return cacheKeyPrefix + ip }

// Get returns the cached reputation for ip. A miss returns ok == false and a
// nil error.
func (c *RedisCache) Get(ctx context.Context, ip string) (Reputation, bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(ip)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Reputation{}, false, nil
	}
	if err != nil {
		return Reputation{}, false, fmt.Errorf("intel cache: get %s: %w", ip, err)
	}
	var rep Reputation
	if err := json.Unmarshal(raw, &rep); err != nil {
		return Reputation{}, false, fmt.Errorf("intel cache: decode %s: %w", ip, err)
	}
	return rep, true, nil
}

// Set stores rep under its IP for ttl.
func (c *RedisCache) Set(ctx context.Context, rep Reputation, ttl time.Duration) error {
	raw, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("intel cache: encode %s: %w", rep.IP, err)
	}
	if err := c.rdb.Set(ctx, cacheKey(rep.IP), raw, ttl).Err(); err != nil {
		return fmt.Errorf("intel cache: set %s: %w", rep.IP, err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error { return c.rdb.Close() }
