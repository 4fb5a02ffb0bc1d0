package service

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisGrantCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisGrantCacheStore(client redis.UniversalClient, prefix string) *RedisGrantCacheStore {
	if prefix == "" {
		prefix = "issuer_grant"
	}
	return &RedisGrantCacheStore{client: client, prefix: prefix}
}

func (s *RedisGrantCacheStore) Get(ctx context.Context, tenantID, contextID, subjectID string) (GrantCacheEntry, error) {
	if s.client == nil {
		return GrantCacheEntry{}, nil
	}
	key, err := s.dataKey(ctx, tenantID, contextID, subjectID)
	if err != nil {
		return GrantCacheEntry{}, err
	}
	entry := GrantCacheEntry{key: key}
	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return entry, nil
	}
	if err != nil {
		return GrantCacheEntry{}, err
	}
	allowed, err := strconv.ParseBool(raw)
	if err != nil {
		// Overwritten with a valid value by the next Set.
		return entry, err
	}
	entry.Allowed, entry.Found = allowed, true
	return entry, nil
}

func (s *RedisGrantCacheStore) Set(ctx context.Context, entry GrantCacheEntry, allowed bool, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 || entry.key == "" {
		return nil
	}
	return s.client.Set(ctx, entry.key, strconv.FormatBool(allowed), ttl).Err()
}

func (s *RedisGrantCacheStore) InvalidateContext(ctx context.Context, tenantID, contextID string) error {
	if s.client == nil {
		return nil
	}
	return s.client.Incr(ctx, s.contextEpochKey(tenantID, contextID)).Err()
}

func (s *RedisGrantCacheStore) InvalidateAll(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Incr(ctx, s.globalEpochKey()).Err()
}

func (s *RedisGrantCacheStore) dataKey(ctx context.Context, tenantID, contextID, subjectID string) (string, error) {
	pipe := s.client.Pipeline()
	globalEpochCmd := pipe.Get(ctx, s.globalEpochKey())
	contextEpochCmd := pipe.Get(ctx, s.contextEpochKey(tenantID, contextID))
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return "", err
	}
	globalEpoch, err := parseEpoch(globalEpochCmd)
	if err != nil {
		return "", err
	}
	contextEpoch, err := parseEpoch(contextEpochCmd)
	if err != nil {
		return "", err
	}
	return s.prefix + ":" + buildGrantCacheKey(globalEpoch, contextEpoch, tenantID, contextID, subjectID), nil
}

func parseEpoch(cmd *redis.StringCmd) (uint64, error) {
	v, err := cmd.Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func (s *RedisGrantCacheStore) globalEpochKey() string {
	return s.prefix + ":epoch:global"
}

func (s *RedisGrantCacheStore) contextEpochKey(tenantID, contextID string) string {
	return s.prefix + ":epoch:context:" + grantScope(tenantID, contextID)
}
