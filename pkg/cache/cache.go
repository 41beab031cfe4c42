// Package cache provides a Redis client wrapper for Sage. It backs the
// monthly spend ledger with atomic increments and provides fixed-window rate
// limiting for the analyze endpoint.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// monthlyTTL keeps a month's counter around long enough to be read after the
// month ends.
const monthlyTTL = 62 * 24 * time.Hour

// Cache wraps a Redis client with Sage-specific operations.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewCache creates a new Redis cache client and verifies connectivity.
func NewCache(ctx context.Context, opts Options, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	logger.Info("cache: connected to Redis", zap.String("addr", opts.Addr))
	return &Cache{client: client, logger: logger}, nil
}

// Close gracefully shuts down the Redis client connection.
func (c *Cache) Close() error {
	if c.client != nil {
		c.logger.Info("cache: closing Redis connection")
		return c.client.Close()
	}
	return nil
}

// monthlyKey constructs the Redis key for a user's spend in one month.
// Format: "ledger:monthly:{monthKey}:{userID}".
func monthlyKey(userID, monthKey string) string {
	return fmt.Sprintf("ledger:monthly:%s:%s", monthKey, userID)
}

// MonthlyCost returns the recorded spend for userID in monthKey, or 0 if
// nothing has been recorded.
func (c *Cache) MonthlyCost(ctx context.Context, userID, monthKey string) (float64, error) {
	key := monthlyKey(userID, monthKey)
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache: get monthly cost %q: %w", key, err)
	}

	spend, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("cache: parse monthly cost %q=%q: %w", key, val, err)
	}
	return spend, nil
}

// incrWithExpireLua atomically increments a key and sets TTL if the key has no expiry.
var incrWithExpireLua = redis.NewScript(`
	local newval = redis.call('INCRBYFLOAT', KEYS[1], ARGV[1])
	if redis.call('TTL', KEYS[1]) == -1 then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return newval
`)

// AddMonthlyCost atomically increments the user's spend for monthKey and
// returns the new total. The increment and the TTL are applied in one
// round-trip so concurrent callers never lose an update.
func (c *Cache) AddMonthlyCost(ctx context.Context, userID, monthKey string, amount float64) (float64, error) {
	key := monthlyKey(userID, monthKey)
	ttlSeconds := int(monthlyTTL / time.Second)

	result, err := incrWithExpireLua.Run(ctx, c.client, []string{key},
		strconv.FormatFloat(amount, 'f', 10, 64), ttlSeconds).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: incr monthly cost %q: %w", key, err)
	}

	// INCRBYFLOAT replies with a bulk string.
	switch v := result.(type) {
	case string:
		newVal, parseErr := strconv.ParseFloat(v, 64)
		if parseErr != nil {
			return 0, fmt.Errorf("cache: parse incr result %q: %w", v, parseErr)
		}
		return newVal, nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("cache: unexpected result type %T from Lua script", result)
	}
}

// rateLimitLua atomically increments the counter and sets TTL only on the first
// request in the window. This prevents the TTL from being extended by subsequent
// requests, which would cause callers to be blocked longer than the intended window.
var rateLimitLua = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// RateLimitCheck performs a fixed-window rate limit check for a given key.
// It returns true if the request is allowed (under limit), false if rate-limited.
func (c *Cache) RateLimitCheck(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)
	windowSeconds := int(window / time.Second)

	result, err := rateLimitLua.Run(ctx, c.client, []string{rateLimitKey}, windowSeconds).Int64()
	if err != nil {
		return false, fmt.Errorf("cache: rate limit check: %w", err)
	}

	return result <= maxRequests, nil
}

// Ping reports whether Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
