package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
	"github.com/sandeepkv93/scan-attendance-service/internal/observability"
)

// Session hash fields. Timestamps are unix milliseconds; max is -1 when unbounded.
const (
	fieldTenant        = "tenant_id"
	fieldContext       = "context_id"
	fieldIssuedBy      = "issued_by"
	fieldIssuedAt      = "issued_at_ms"
	fieldExpiresAt     = "expires_at_ms"
	fieldMax           = "max"
	fieldCount         = "count"
	fieldActive        = "active"
	fieldProximity     = "prox"
	fieldLat           = "lat"
	fieldLng           = "lng"
	fieldRadius        = "radius_m"
	fieldDeactivatedAt = "deactivated_at_ms"
	fieldDeactivatedBy = "deactivated_reason"
	fieldCreatedAt     = "created_at_ms"
	fieldUpdatedAt     = "updated_at_ms"
)

var createSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('PEXPIREAT', KEYS[1], ARGV[1])
return 1
`)

// KEYS[1] session hash, KEYS[2] redeemer set.
// ARGV[1] subject, ARGV[2] now ms.
var redeemScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'NOT_FOUND', 0}
end
local s = redis.call('HMGET', KEYS[1], 'active', 'expires_at_ms', 'max', 'count')
local count = tonumber(s[4])
if s[1] ~= '1' then
  return {'SESSION_INACTIVE', count}
end
if tonumber(ARGV[2]) >= tonumber(s[2]) then
  return {'SESSION_EXPIRED', count}
end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
  return {'ALREADY_REDEEMED', count}
end
local max = tonumber(s[3])
if max >= 0 and count >= max then
  return {'REDEMPTION_LIMIT', count}
end
redis.call('SADD', KEYS[2], ARGV[1])
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('HSET', KEYS[1], 'updated_at_ms', ARGV[2])
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return {'OK', count}
`)

// ARGV[1] now ms, ARGV[2] reason, ARGV[3] cutoff ms or -1 for unconditional.
var deactivateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local s = redis.call('HMGET', KEYS[1], 'active', 'expires_at_ms')
if s[1] ~= '1' then
  return 0
end
local cutoff = tonumber(ARGV[3])
if cutoff >= 0 and tonumber(s[2]) > cutoff then
  return 0
end
redis.call('HSET', KEYS[1], 'active', '0', 'deactivated_at_ms', ARGV[1], 'deactivated_reason', ARGV[2], 'updated_at_ms', ARGV[1])
return 1
`)

type RedisSessionStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisSessionStore keeps each session for retention past its expiry before
// Redis evicts it.
func NewRedisSessionStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisSessionStore {
	if prefix == "" {
		prefix = "credential"
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisSessionStore{client: client, prefix: prefix, retention: retention}
}

func (s *RedisSessionStore) CreateIfAbsent(ctx context.Context, session *domain.CredentialSession) error {
	now := time.Now().UTC()
	session.CreatedAt, session.UpdatedAt = now, now
	maxRedemptions := -1
	if session.MaxRedemptions != nil {
		maxRedemptions = *session.MaxRedemptions
	}
	args := []any{
		session.ExpiresAt.Add(s.retention).UnixMilli(),
		fieldTenant, session.TenantID,
		fieldContext, session.ContextID,
		fieldIssuedBy, session.IssuedBy,
		fieldIssuedAt, session.IssuedAt.UnixMilli(),
		fieldExpiresAt, session.ExpiresAt.UnixMilli(),
		fieldMax, maxRedemptions,
		fieldCount, session.RedemptionCount,
		fieldActive, boolField(session.Active),
		fieldProximity, boolField(session.RequireProximity),
		fieldLat, strconv.FormatFloat(session.ReferenceLatitude, 'f', -1, 64),
		fieldLng, strconv.FormatFloat(session.ReferenceLongitude, 'f', -1, 64),
		fieldRadius, strconv.FormatFloat(session.ProximityRadiusMeters, 'f', -1, 64),
		fieldCreatedAt, now.UnixMilli(),
		fieldUpdatedAt, now.UnixMilli(),
	}
	created, err := createSessionScript.Run(ctx, s.client, []string{s.sessionKey(session.Code)}, args...).Int()
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "credential_session", "create", "error")
		return fmt.Errorf("create credential session: %w", err)
	}
	if created == 0 {
		observability.RecordRepositoryOperation(ctx, "credential_session", "create", "collision")
		return ErrCodeCollision
	}
	observability.RecordRepositoryOperation(ctx, "credential_session", "create", "success")
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, code string) (*domain.CredentialSession, error) {
	pipe := s.client.Pipeline()
	fieldsCmd := pipe.HGetAll(ctx, s.sessionKey(code))
	membersCmd := pipe.SMembers(ctx, s.redeemersKey(code))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		observability.RecordRepositoryOperation(ctx, "credential_session", "get", "error")
		return nil, fmt.Errorf("get credential session: %w", err)
	}
	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		observability.RecordRepositoryOperation(ctx, "credential_session", "get", "not_found")
		return nil, ErrSessionNotFound
	}
	session, err := decodeSessionHash(code, fields)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "credential_session", "get", "error")
		return nil, err
	}
	session.RedeemedBy = membersCmd.Val()
	observability.RecordRepositoryOperation(ctx, "credential_session", "get", "success")
	return session, nil
}

func (s *RedisSessionStore) ConditionalRedeem(ctx context.Context, code, subjectID string, now time.Time) (RedeemResult, error) {
	keys := []string{s.sessionKey(code), s.redeemersKey(code)}
	raw, err := redeemScript.Run(ctx, s.client, keys, subjectID, now.UnixMilli()).Slice()
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "credential_session", "conditional_redeem", "error")
		return RedeemResult{}, fmt.Errorf("conditional redeem: %w", err)
	}
	if len(raw) != 2 {
		observability.RecordRepositoryOperation(ctx, "credential_session", "conditional_redeem", "error")
		return RedeemResult{}, fmt.Errorf("conditional redeem: unexpected reply %v", raw)
	}
	status, _ := raw[0].(string)
	count, _ := raw[1].(int64)
	switch status {
	case "OK":
		observability.RecordRepositoryOperation(ctx, "credential_session", "conditional_redeem", "success")
		return RedeemResult{Applied: true, RedemptionCount: int(count)}, nil
	case "NOT_FOUND":
		observability.RecordRepositoryOperation(ctx, "credential_session", "conditional_redeem", "not_found")
		return RedeemResult{}, ErrSessionNotFound
	default:
		observability.RecordRepositoryOperation(ctx, "credential_session", "conditional_redeem", "condition_failed")
		return RedeemResult{Blocker: domain.Reason(status), RedemptionCount: int(count)}, nil
	}
}

func (s *RedisSessionStore) MarkInactive(ctx context.Context, code, reason string, now time.Time) (bool, error) {
	changed, err := s.deactivate(ctx, s.sessionKey(code), reason, now, -1)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "credential_session", "mark_inactive", "error")
		return false, fmt.Errorf("mark credential session inactive: %w", err)
	}
	if changed < 0 {
		observability.RecordRepositoryOperation(ctx, "credential_session", "mark_inactive", "not_found")
		return false, ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(ctx, "credential_session", "mark_inactive", "success")
	return changed == 1, nil
}

func (s *RedisSessionStore) SweepExpired(ctx context.Context, cutoff, now time.Time) (int64, error) {
	var (
		swept  int64
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+":session:*", 200).Result()
		if err != nil {
			observability.RecordRepositoryOperation(ctx, "credential_session", "sweep_expired", "error")
			return swept, fmt.Errorf("scan credential sessions: %w", err)
		}
		for _, key := range keys {
			changed, err := s.deactivate(ctx, key, domain.DeactivatedBySweep, now, cutoff.UnixMilli())
			if err != nil {
				observability.RecordRepositoryOperation(ctx, "credential_session", "sweep_expired", "error")
				return swept, fmt.Errorf("sweep credential session: %w", err)
			}
			if changed == 1 {
				swept++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	observability.RecordRepositoryOperation(ctx, "credential_session", "sweep_expired", "success")
	return swept, nil
}

func (s *RedisSessionStore) deactivate(ctx context.Context, key, reason string, now time.Time, cutoffMillis int64) (int64, error) {
	return deactivateScript.Run(ctx, s.client, []string{key}, now.UnixMilli(), reason, cutoffMillis).Int64()
}

// Both keys share the {code} hash tag so scripts stay on one cluster slot.
func (s *RedisSessionStore) sessionKey(code string) string {
	return fmt.Sprintf("%s:session:{%s}", s.prefix, code)
}

func (s *RedisSessionStore) redeemersKey(code string) string {
	return fmt.Sprintf("%s:redeemers:{%s}", s.prefix, code)
}

func decodeSessionHash(code string, f map[string]string) (*domain.CredentialSession, error) {
	parseInt := func(name string) (int64, error) {
		v, err := strconv.ParseInt(f[name], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("decode credential session field %s: %w", name, err)
		}
		return v, nil
	}
	parseFloat := func(name string) (float64, error) {
		if f[name] == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(f[name], 64)
		if err != nil {
			return 0, fmt.Errorf("decode credential session field %s: %w", name, err)
		}
		return v, nil
	}

	issuedAt, err := parseInt(fieldIssuedAt)
	if err != nil {
		return nil, err
	}
	expiresAt, err := parseInt(fieldExpiresAt)
	if err != nil {
		return nil, err
	}
	maxRedemptions, err := parseInt(fieldMax)
	if err != nil {
		return nil, err
	}
	count, err := parseInt(fieldCount)
	if err != nil {
		return nil, err
	}
	lat, err := parseFloat(fieldLat)
	if err != nil {
		return nil, err
	}
	lng, err := parseFloat(fieldLng)
	if err != nil {
		return nil, err
	}
	radius, err := parseFloat(fieldRadius)
	if err != nil {
		return nil, err
	}

	session := &domain.CredentialSession{
		Code:                  code,
		TenantID:              f[fieldTenant],
		ContextID:             f[fieldContext],
		IssuedBy:              f[fieldIssuedBy],
		IssuedAt:              time.UnixMilli(issuedAt).UTC(),
		ExpiresAt:             time.UnixMilli(expiresAt).UTC(),
		RedemptionCount:       int(count),
		Active:                f[fieldActive] == "1",
		RequireProximity:      f[fieldProximity] == "1",
		ReferenceLatitude:     lat,
		ReferenceLongitude:    lng,
		ProximityRadiusMeters: radius,
	}
	if maxRedemptions >= 0 {
		m := int(maxRedemptions)
		session.MaxRedemptions = &m
	}
	if v, ok := f[fieldDeactivatedAt]; ok && v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			at := time.UnixMilli(ms).UTC()
			session.DeactivatedAt = &at
		}
	}
	if v, ok := f[fieldDeactivatedBy]; ok && v != "" {
		reason := v
		session.DeactivatedReason = &reason
	}
	if ms, err := strconv.ParseInt(f[fieldCreatedAt], 10, 64); err == nil {
		session.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(f[fieldUpdatedAt], 10, 64); err == nil {
		session.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return session, nil
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
