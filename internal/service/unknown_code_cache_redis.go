package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisUnknownCodeCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisUnknownCodeCache(client redis.UniversalClient, prefix string) *RedisUnknownCodeCache {
	if prefix == "" {
		prefix = "unknown_code"
	}
	return &RedisUnknownCodeCache{client: client, prefix: prefix}
}

func (c *RedisUnknownCodeCache) Seen(ctx context.Context, code string) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	_, err := c.client.Get(ctx, c.key(code)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisUnknownCodeCache) Remember(ctx context.Context, code string, ttl time.Duration) error {
	if c.client == nil || ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.key(code), "1", ttl).Err()
}

func (c *RedisUnknownCodeCache) Forget(ctx context.Context, code string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(code)).Err()
}

func (c *RedisUnknownCodeCache) key(code string) string {
	return fmt.Sprintf("%s:%s", c.prefix, codeDigest(code))
}
