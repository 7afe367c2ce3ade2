package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig configures the rate limiter
type RateLimitConfig struct {
	// Max requests per window
	Max int
	// Window duration
	Window time.Duration
	// KeyGenerator derives the limiter key from the request
	KeyGenerator func(*fiber.Ctx) string
	// Skip returns true for requests that bypass the limiter
	Skip func(*fiber.Ctx) bool
	// LimitReached is called when the limit is exceeded
	LimitReached fiber.Handler
}

// DefaultRateLimitConfig returns default rate limit config
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Max:    100,
		Window: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "Too Many Requests",
				"message": "Rate limit exceeded. Please try again later.",
			})
		},
	}
}

// RateLimitMiddleware implements a Redis sliding-window limiter. Redis
// being unreachable fails open so event producers keep ingesting.
type RateLimitMiddleware struct {
	redis  *redis.Client
	config RateLimitConfig
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(redisClient *redis.Client, config ...RateLimitConfig) *RateLimitMiddleware {
	cfg := DefaultRateLimitConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	return &RateLimitMiddleware{
		redis:  redisClient,
		config: cfg,
	}
}

// Handler returns the general per-IP rate limit handler
func (m *RateLimitMiddleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.config.Skip != nil && m.config.Skip(c) {
			return c.Next()
		}

		key := "ratelimit:" + m.config.KeyGenerator(c)
		if !m.take(c, key, m.config.Max, m.config.Window) {
			return m.config.LimitReached(c)
		}
		return c.Next()
	}
}

// RunRateLimit limits per run, keyed on the run resolved by ingest key
// auth. Requests without a run in context pass through.
func (m *RateLimitMiddleware) RunRateLimit(maxPerMinute int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		runID, ok := GetRunID(c)
		if !ok {
			return c.Next()
		}

		key := "ratelimit:run:" + runID.String()
		if !m.take(c, key, maxPerMinute, time.Minute) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "Too Many Requests",
				"message": "Run rate limit exceeded",
			})
		}
		return c.Next()
	}
}

// LoginRateLimit tightly limits login attempts per client IP
func (m *RateLimitMiddleware) LoginRateLimit(maxPerMinute int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := "ratelimit:login:" + c.IP()
		if !m.take(c, key, maxPerMinute, time.Minute) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "Too Many Requests",
				"message": "Too many login attempts",
			})
		}
		return c.Next()
	}
}

// take counts the request against a sliding window kept in a Redis
// sorted set and sets the X-RateLimit response headers. Reports whether
// the request is allowed; any Redis error allows it.
func (m *RateLimitMiddleware) take(c *fiber.Ctx, key string, max int, window time.Duration) bool {
	now := time.Now().Unix()
	windowSecs := int64(window.Seconds())
	ctx := context.Background()

	m.redis.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now-windowSecs, 10))

	count, err := m.redis.ZCard(ctx, key).Result()
	if err != nil {
		return true
	}

	c.Set("X-RateLimit-Limit", strconv.Itoa(max))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(now+windowSecs, 10))

	if count >= int64(max) {
		c.Set("X-RateLimit-Remaining", "0")
		c.Set("Retry-After", strconv.FormatInt(windowSecs, 10))
		return false
	}

	// The request id disambiguates members landing in the same second.
	m.redis.ZAdd(ctx, key, redis.Z{
		Score:  float64(now),
		Member: fmt.Sprintf("%d:%s", now, GetRequestID(c)),
	})
	m.redis.Expire(ctx, key, window*2)

	c.Set("X-RateLimit-Remaining", strconv.Itoa(max-int(count)-1))
	return true
}
