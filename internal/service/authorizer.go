package service

import (
	"context"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
	"github.com/sandeepkv93/scan-attendance-service/internal/security"
)

const (
	PermissionIssue          = "attendance:issue"
	PermissionInvalidate     = "attendance:invalidate"
	PermissionReadAttendance = "attendance:read"
	PermissionAdmin          = "attendance:admin"
)

// IssuerAuthorizer answers whether issuer may issue credentials for contextID.
type IssuerAuthorizer interface {
	CanIssue(ctx context.Context, issuer security.Identity, contextID string) (bool, error)
}

// PermissionAuthorizer grants issuance from token permissions: the global
// attendance:issue or the context scoped attendance:issue:<contextID>.
type PermissionAuthorizer struct{}

func NewPermissionAuthorizer() *PermissionAuthorizer { return &PermissionAuthorizer{} }

func (PermissionAuthorizer) CanIssue(_ context.Context, issuer security.Identity, contextID string) (bool, error) {
	return issuer.HasPermission(PermissionIssue) || issuer.HasPermission(PermissionIssue+":"+contextID), nil
}

// canManage reports whether actor may invalidate or inspect session. Tenant
// scope is checked by the caller.
func canManage(session *domain.CredentialSession, actor security.Identity) bool {
	return session.IssuedBy == actor.SubjectID || actor.HasPermission(PermissionInvalidate)
}

func canReadAttendance(ctx context.Context, authz IssuerAuthorizer, viewer security.Identity, contextID string) (bool, error) {
	if viewer.HasPermission(PermissionReadAttendance) {
		return true, nil
	}
	return authz.CanIssue(ctx, viewer, contextID)
}
