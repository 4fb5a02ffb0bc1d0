package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFixedWindowLimiter counts hits per key in a fixed window with INCR and
// EXPIRE so every replica shares one budget.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = policy.normalized()
	now := time.Now().UTC()
	start := now.Truncate(policy.Window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, strings.ReplaceAll(key, " ", "_"), start.Unix())

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, err
	}
	if count == 1 {
		// The window key is unique per window start, so a lost EXPIRE only leaks one key.
		if err := l.client.Expire(ctx, redisKey, policy.Window).Err(); err != nil {
			return Decision{}, err
		}
	}
	return policy.decide(int(count), now, start.Add(policy.Window)), nil
}
