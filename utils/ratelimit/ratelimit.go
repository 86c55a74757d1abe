package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Gopher0727/Strangers/config"
)

// Limiter defines the interface for rate limiting operations
type Limiter interface {
	// Allow checks if a request should be allowed based on rate limits
	// Returns true if allowed, false if rate limit exceeded
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// AllowN checks if N requests should be allowed
	AllowN(ctx context.Context, key string, n int, limit int, window time.Duration) (bool, error)

	// Reset clears the current window of a key
	Reset(ctx context.Context, key string, window time.Duration) error

	// GetRemaining returns the number of remaining requests in the current window
	GetRemaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// WindowLimiter counts requests per fixed window in Redis. Every
// (key, window) pair maps to one counter that expires with its window.
type WindowLimiter struct {
	redisClient *redis.Client
	clock       clockwork.Clock
	logger      *zap.Logger
	fallback    bool // If true, allow requests when Redis is unavailable (fail-open)
}

// NewWindowLimiter creates a new fixed-window rate limiter
//
// Parameters:
//   - redisClient: Redis client for storing rate limit state
//   - clock: Time source for window boundaries; nil means the real clock
//   - logger: Logger for recording rate limit events
//   - fallback: If true, allows requests when Redis fails (fail-open strategy)
//
// Returns:
//   - *WindowLimiter: The initialized rate limiter
func NewWindowLimiter(redisClient *redis.Client, clock clockwork.Clock, logger *zap.Logger, fallback bool) *WindowLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WindowLimiter{
		redisClient: redisClient,
		clock:       clock,
		logger:      logger,
		fallback:    fallback,
	}
}

// Allow checks if a single request should be allowed based on rate limits
//
// Parameters:
//   - ctx: Context for the operation
//   - key: Unique identifier for the bucket (e.g., "session:<id>:auth")
//   - limit: Maximum number of requests allowed in the time window
//   - window: Time window for the rate limit (e.g., 1 minute)
//
// Returns:
//   - bool: true if the request is allowed, false if rate limit exceeded
//   - error: Any error encountered during the check
func (l *WindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return l.AllowN(ctx, key, 1, limit, window)
}

// AllowN consumes n requests from the current window.
func (l *WindowLimiter) AllowN(ctx context.Context, key string, n int, limit int, window time.Duration) (bool, error) {
	bucketKey := l.getBucketKey(key, l.clock.Now(), window)

	pipe := l.redisClient.Pipeline()
	incrCmd := pipe.IncrBy(ctx, bucketKey, int64(n))
	// 1s buffer so the counter outlives its window boundary
	pipe.Expire(ctx, bucketKey, window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Error("rate limit check failed",
			zap.String("key", bucketKey),
			zap.Error(err),
		)
		if l.fallback {
			l.logger.Warn("rate limit check failed, allowing request (fail-open)",
				zap.String("key", key),
			)
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incrCmd.Val()
	allowed := count <= int64(limit)
	if !allowed {
		l.logger.Warn("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", limit),
			zap.Duration("window", window),
		)
	}
	return allowed, nil
}

// Reset clears the current window of key.
func (l *WindowLimiter) Reset(ctx context.Context, key string, window time.Duration) error {
	bucketKey := l.getBucketKey(key, l.clock.Now(), window)
	if err := l.redisClient.Del(ctx, bucketKey).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for key %s: %w", key, err)
	}
	l.logger.Info("rate limit reset", zap.String("key", key))
	return nil
}

// GetRemaining returns the number of remaining requests in the current window
func (l *WindowLimiter) GetRemaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	bucketKey := l.getBucketKey(key, l.clock.Now(), window)

	count, err := l.redisClient.Get(ctx, bucketKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return limit, nil
		}
		return 0, fmt.Errorf("failed to get remaining tokens: %w", err)
	}
	return max(limit-int(count), 0), nil
}

// getBucketKey names the counter of the window containing now.
func (l *WindowLimiter) getBucketKey(key string, now time.Time, window time.Duration) string {
	span := max(int64(window/time.Second), 1)
	return fmt.Sprintf("ratelimit:%s:%d", key, now.Unix()/span)
}

// Endpoint groups routes that share a budget.
type Endpoint string

const (
	EndpointAuth    Endpoint = "auth"
	EndpointSearch  Endpoint = "search"
	EndpointMessage Endpoint = "message"
	EndpointAPI     Endpoint = "api"
)

// Rule defines a rate limiting rule
type Rule struct {
	Limit  int
	Window time.Duration
}

// RuleFor returns the per-minute rule of an endpoint group.
func RuleFor(endpoint Endpoint, cfg *config.RateLimitConfig) Rule {
	limit := 100
	switch endpoint {
	case EndpointAuth:
		limit = cfg.AuthPerMinute
	case EndpointSearch:
		limit = cfg.SearchPerMinute
	case EndpointMessage:
		limit = cfg.MessagePerMinute
	case EndpointAPI:
		limit = cfg.APIPerMinute
	}
	return Rule{Limit: limit, Window: time.Minute}
}
