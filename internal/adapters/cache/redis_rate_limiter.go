package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "auth:ratelimit:"

// RedisRateLimiter counts events per key in fixed windows. The counter is a
// plain INCR; the window boundary is the key's TTL, set when the counter is
// first created.
type RedisRateLimiter struct {
	client *redis.Client
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, period time.Duration) (bool, error) {
	if limit <= 0 || period <= 0 {
		return true, nil
	}

	fullKey := rateLimitKeyPrefix + key
	count, err := l.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, fullKey, period).Err(); err != nil {
			return false, fmt.Errorf("ratelimit expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}
