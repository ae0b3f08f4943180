package httpx

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type redisRateLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisRateLimiter builds a limiter shared by every API replica using client. The
// caller keeps ownership of the client.
func NewRedisRateLimiter(client *redis.Client, logger *slog.Logger) RateLimiter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &redisRateLimiter{
		client:  client,
		logger:  logger,
		prefix:  "tally:ratelimit:",
		timeout: 250 * time.Millisecond,
	}
}

// Allow fails open when redis is unreachable.
func (rl *redisRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, window)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Error("redis rate limiter error", "op", "exec", "error", err)
		return rateDecision{allowed: true}
	}
	remaining := ttl.Val()
	if remaining <= 0 {
		remaining = window
	}
	counter := incr.Val()
	return rateDecision{
		allowed:   int(counter) <= limit,
		count:     int(counter),
		windowEnd: time.Now().Add(remaining),
	}
}

func (rl *redisRateLimiter) Close() {}
