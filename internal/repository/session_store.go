package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
)

var (
	ErrSessionNotFound = errors.New("credential session not found")
	ErrCodeCollision   = errors.New("credential code already exists")
)

// RedeemResult is the write-time decision of ConditionalRedeem. When Applied is
// false, Blocker names the predicate that failed at write time.
type RedeemResult struct {
	Applied         bool
	Blocker         domain.Reason
	RedemptionCount int
}

// SessionStore persists credential sessions keyed by code. Codes are unique
// across all tenants. ConditionalRedeem and MarkInactive are each a single atomic
// operation in every implementation; callers never emulate them with Get+write.
type SessionStore interface {
	CreateIfAbsent(ctx context.Context, s *domain.CredentialSession) error
	Get(ctx context.Context, code string) (*domain.CredentialSession, error)
	// ConditionalRedeem re-checks active, expiry, duplicate and ceiling at write
	// time and, only if all pass, increments the count and adds subjectID.
	ConditionalRedeem(ctx context.Context, code, subjectID string, now time.Time) (RedeemResult, error)
	// MarkInactive reports whether this call flipped the session to inactive.
	MarkInactive(ctx context.Context, code, reason string, now time.Time) (bool, error)
	// SweepExpired deactivates active sessions with expiresAt <= cutoff.
	SweepExpired(ctx context.Context, cutoff, now time.Time) (int64, error)
}

func cloneSession(s *domain.CredentialSession) *domain.CredentialSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.MaxRedemptions != nil {
		v := *s.MaxRedemptions
		out.MaxRedemptions = &v
	}
	if s.DeactivatedAt != nil {
		v := *s.DeactivatedAt
		out.DeactivatedAt = &v
	}
	if s.DeactivatedReason != nil {
		v := *s.DeactivatedReason
		out.DeactivatedReason = &v
	}
	out.RedeemedBy = append([]string(nil), s.RedeemedBy...)
	return &out
}
