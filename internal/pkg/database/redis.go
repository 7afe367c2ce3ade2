package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/pkg/logger"
)

// RedisDB wraps the Redis client shared by the ingest-key cache, the
// rate limiter and the asynq queues.
type RedisDB struct {
	Client *redis.Client
}

// NewRedis connects and pings a Redis client.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        50,
		MinIdleConns:    5,
		PoolTimeout:     4 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("connected to Redis",
		zap.String("addr", cfg.Addr()),
		zap.Int("db", cfg.DB),
	)

	return &RedisDB{Client: client}, nil
}

// Close closes the Redis connection
func (db *RedisDB) Close() error {
	if db.Client != nil {
		return db.Client.Close()
	}
	return nil
}

// Cache is a string cache with a fixed TTL. The auth layer uses it to
// keep validated ingest keys off the Postgres hot path.
type Cache struct {
	redis *RedisDB
	ttl   time.Duration
}

// NewCache creates a new cache
func NewCache(redis *RedisDB, ttl time.Duration) *Cache {
	return &Cache{
		redis: redis,
		ttl:   ttl,
	}
}

// Get returns the cached value and whether it was present. Lookup
// errors read as a miss.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.redis.Client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Debug("cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return val, true
}

// Set stores a value under the cache TTL. Stale entries age out by
// TTL; there is no explicit invalidation path.
func (c *Cache) Set(ctx context.Context, key, value string) error {
	return c.redis.Client.Set(ctx, key, value, c.ttl).Err()
}
