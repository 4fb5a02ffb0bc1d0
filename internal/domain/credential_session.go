package domain

import (
	"slices"
	"time"
)

// CredentialSession is the issuable, redeemable unit behind a scannable credential.
// RedemptionCount always equals len(RedeemedBy) once loaded from a store.
type CredentialSession struct {
	ID                    uint       `gorm:"primaryKey" json:"-"`
	Code                  string     `gorm:"size:64;uniqueIndex;not null" json:"code"`
	TenantID              string     `gorm:"size:64;not null;index:idx_credential_sessions_tenant_context,priority:1" json:"tenant_id"`
	ContextID             string     `gorm:"size:128;not null;index:idx_credential_sessions_tenant_context,priority:2" json:"context_id"`
	IssuedBy              string     `gorm:"size:128;not null" json:"issued_by"`
	IssuedAt              time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt             time.Time  `gorm:"index;not null" json:"expires_at"`
	MaxRedemptions        *int       `json:"max_redemptions,omitempty"`
	RedemptionCount       int        `gorm:"not null;default:0" json:"redemption_count"`
	RedeemedBy            []string   `gorm:"-" json:"-"`
	Active                bool       `gorm:"not null;index" json:"active"`
	RequireProximity      bool       `gorm:"not null;default:false" json:"require_proximity"`
	ReferenceLatitude     float64    `json:"reference_latitude,omitempty"`
	ReferenceLongitude    float64    `json:"reference_longitude,omitempty"`
	ProximityRadiusMeters float64    `json:"proximity_radius_m,omitempty"`
	DeactivatedAt         *time.Time `json:"deactivated_at,omitempty"`
	DeactivatedReason     *string    `gorm:"size:64" json:"deactivated_reason,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// CredentialRedemption is one subject's successful redemption of a session.
type CredentialRedemption struct {
	ID          uint      `gorm:"primaryKey"`
	SessionCode string    `gorm:"size:64;not null;uniqueIndex:idx_credential_redemptions_code_subject,priority:1"`
	SubjectID   string    `gorm:"size:128;not null;uniqueIndex:idx_credential_redemptions_code_subject,priority:2"`
	RedeemedAt  time.Time `gorm:"not null"`
}

type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

type ProximityConstraint struct {
	Reference    Location `json:"reference"`
	RadiusMeters float64  `json:"radius_m"`
}

// RedemptionAttempt is never persisted; only its outcome is observable.
type RedemptionAttempt struct {
	Code            string
	ClaimedTenantID string
	SubjectID       string
	AttemptedAt     time.Time
	Location        *Location
}

const (
	DeactivatedByIssuer = "invalidated"
	DeactivatedBySweep  = "expired_sweep"
)

func (s *CredentialSession) Proximity() (ProximityConstraint, bool) {
	if !s.RequireProximity {
		return ProximityConstraint{}, false
	}
	return ProximityConstraint{
		Reference:    Location{Latitude: s.ReferenceLatitude, Longitude: s.ReferenceLongitude},
		RadiusMeters: s.ProximityRadiusMeters,
	}, true
}

func (s *CredentialSession) SetProximity(p *ProximityConstraint) {
	if p == nil {
		s.RequireProximity = false
		s.ReferenceLatitude, s.ReferenceLongitude, s.ProximityRadiusMeters = 0, 0, 0
		return
	}
	s.RequireProximity = true
	s.ReferenceLatitude = p.Reference.Latitude
	s.ReferenceLongitude = p.Reference.Longitude
	s.ProximityRadiusMeters = p.RadiusMeters
}

// RedemptionBlocker is the single redeemability predicate. It reports the first
// reason subjectID cannot redeem the session at now, in precedence order
// inactive, expired, already redeemed, ceiling, and "" when redemption may proceed.
// A subject already counted is never blocked by the ceiling it helped fill.
func (s *CredentialSession) RedemptionBlocker(subjectID string, now time.Time) Reason {
	switch {
	case !s.Active:
		return ReasonSessionInactive
	case !now.Before(s.ExpiresAt):
		return ReasonSessionExpired
	case subjectID != "" && s.HasRedeemed(subjectID):
		return ReasonAlreadyRedeemed
	case s.MaxRedemptions != nil && s.RedemptionCount >= *s.MaxRedemptions:
		return ReasonRedemptionLimit
	default:
		return ""
	}
}

// IsRedeemable reports active && now < expiresAt && ceiling not reached.
func (s *CredentialSession) IsRedeemable(now time.Time) bool {
	return s.RedemptionBlocker("", now) == ""
}

func (s *CredentialSession) HasRedeemed(subjectID string) bool {
	return slices.Contains(s.RedeemedBy, subjectID)
}

func (s *CredentialSession) RemainingRedemptions() *int {
	if s.MaxRedemptions == nil {
		return nil
	}
	left := max(*s.MaxRedemptions-s.RedemptionCount, 0)
	return &left
}
