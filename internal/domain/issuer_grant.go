package domain

import "time"

// IssuerGrant lets SubjectID issue credentials for one context within a tenant.
type IssuerGrant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"size:64;not null;uniqueIndex:idx_issuer_grants_scope,priority:1" json:"tenant_id"`
	ContextID string    `gorm:"size:128;not null;uniqueIndex:idx_issuer_grants_scope,priority:2" json:"context_id"`
	SubjectID string    `gorm:"size:128;not null;uniqueIndex:idx_issuer_grants_scope,priority:3" json:"subject_id"`
	GrantedBy string    `gorm:"size:128;not null" json:"granted_by"`
	CreatedAt time.Time `json:"created_at"`
}
