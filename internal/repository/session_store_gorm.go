package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
	"github.com/sandeepkv93/scan-attendance-service/internal/observability"
)

var errConditionFailed = errors.New("redeem condition failed")

type GormSessionStore struct{ db *gorm.DB }

func NewGormSessionStore(db *gorm.DB) *GormSessionStore { return &GormSessionStore{db: db} }

func (r *GormSessionStore) CreateIfAbsent(ctx context.Context, s *domain.CredentialSession) error {
	s.IssuedAt = s.IssuedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoNothing: true,
	}).Create(s)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "credential_session", "create", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "credential_session", "create", "collision")
		return ErrCodeCollision
	}
	observability.RecordRepositoryOperation(ctx, "credential_session", "create", "success")
	return nil
}

func (r *GormSessionStore) Get(ctx context.Context, code string) (*domain.CredentialSession, error) {
	s, err := r.load(r.db.WithContext(ctx), code)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			observability.RecordRepositoryOperation(ctx, "credential_session", "get", "not_found")
			return nil, err
		}
		observability.RecordRepositoryOperation(ctx, "credential_session", "get", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "credential_session", "get", "success")
	return s, nil
}

// ConditionalRedeem relies on the guarded UPDATE being re-evaluated against the
// locked row, so concurrent redeemers can never push the count past the ceiling.
// The redemption insert shares the transaction; a duplicate subject rolls back
// the increment.
func (r *GormSessionStore) ConditionalRedeem(ctx context.Context, code, subjectID string, now time.Time) (RedeemResult, error) {
	now = now.UTC()
	var count int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.CredentialSession{}).
			Where("code = ? AND active = ? AND expires_at > ? AND (max_redemptions IS NULL OR redemption_count < max_redemptions)", code, true, now).
			Updates(map[string]any{
				"redemption_count": gorm.Expr("redemption_count + 1"),
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errConditionFailed
		}
		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.CredentialRedemption{
			SessionCode: code,
			SubjectID:   subjectID,
			RedeemedAt:  now,
		})
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected == 0 {
			return errConditionFailed
		}
		return tx.Model(&domain.CredentialSession{}).Where("code = ?", code).Pluck("redemption_count", &count).Error
	})
	if err == nil {
		observability.RecordRepositoryOperation(ctx, "credential_session", "conditional_redeem", "success")
		return RedeemResult{Applied: true, RedemptionCount: count}, nil
	}
	if !errors.Is(err, errConditionFailed) {
		observability.RecordRepositoryOperation(ctx, "credential_session", "conditional_redeem", "error")
		return RedeemResult{}, err
	}

	s, err := r.load(r.db.WithContext(ctx), code)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			observability.RecordRepositoryOperation(ctx, "credential_session", "conditional_redeem", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "credential_session", "conditional_redeem", "error")
		}
		return RedeemResult{}, err
	}
	blocker := s.RedemptionBlocker(subjectID, now)
	if blocker == "" {
		observability.RecordRepositoryOperation(ctx, "credential_session", "conditional_redeem", "error")
		return RedeemResult{}, fmt.Errorf("conditional redeem %s: %w without a blocking condition", observability.CodeFingerprint(code), errConditionFailed)
	}
	observability.RecordRepositoryOperation(ctx, "credential_session", "conditional_redeem", "condition_failed")
	return RedeemResult{Blocker: blocker, RedemptionCount: s.RedemptionCount}, nil
}

func (r *GormSessionStore) MarkInactive(ctx context.Context, code, reason string, now time.Time) (bool, error) {
	now = now.UTC()
	res := r.db.WithContext(ctx).Model(&domain.CredentialSession{}).
		Where("code = ? AND active = ?", code, true).
		Updates(deactivationColumns(reason, now))
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "credential_session", "mark_inactive", "error")
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		observability.RecordRepositoryOperation(ctx, "credential_session", "mark_inactive", "success")
		return true, nil
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(&domain.CredentialSession{}).Where("code = ?", code).Count(&n).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "credential_session", "mark_inactive", "error")
		return false, err
	}
	if n == 0 {
		observability.RecordRepositoryOperation(ctx, "credential_session", "mark_inactive", "not_found")
		return false, ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(ctx, "credential_session", "mark_inactive", "noop")
	return false, nil
}

func (r *GormSessionStore) SweepExpired(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.CredentialSession{}).
		Where("active = ? AND expires_at <= ?", true, cutoff.UTC()).
		Updates(deactivationColumns(domain.DeactivatedBySweep, now.UTC()))
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "credential_session", "sweep_expired", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "credential_session", "sweep_expired", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionStore) load(db *gorm.DB, code string) (*domain.CredentialSession, error) {
	var s domain.CredentialSession
	if err := db.Where("code = ?", code).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if err := db.Model(&domain.CredentialRedemption{}).
		Where("session_code = ?", code).
		Order("redeemed_at ASC, id ASC").
		Pluck("subject_id", &s.RedeemedBy).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func deactivationColumns(reason string, now time.Time) map[string]any {
	return map[string]any{
		"active":             false,
		"deactivated_at":     now,
		"deactivated_reason": reason,
		"updated_at":         now,
	}
}
