package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
	"github.com/sandeepkv93/scan-attendance-service/internal/repository"
	"github.com/sandeepkv93/scan-attendance-service/internal/security"
)

// GrantAuthorizer answers issuance questions from token permissions first and
// falls back to per-context issuer grants stored in SQL. Grant lookups are
// cached, including negative answers.
type GrantAuthorizer struct {
	permissions PermissionAuthorizer
	grants      repository.IssuerGrantRepository
	cache       GrantCacheStore
	ttl         time.Duration
	logger      *slog.Logger
}

func NewGrantAuthorizer(grants repository.IssuerGrantRepository, cache GrantCacheStore, ttl time.Duration, logger *slog.Logger) *GrantAuthorizer {
	if cache == nil {
		cache = NewNoopGrantCacheStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantAuthorizer{grants: grants, cache: cache, ttl: ttl, logger: logger}
}

func (a *GrantAuthorizer) CanIssue(ctx context.Context, issuer security.Identity, contextID string) (bool, error) {
	if ok, _ := a.permissions.CanIssue(ctx, issuer, contextID); ok {
		return true, nil
	}
	// The entry pins the epochs read before the SQL lookup; a revoke landing
	// in between makes the write below unreachable.
	var entry GrantCacheEntry
	if a.ttl > 0 {
		var err error
		entry, err = a.cache.Get(ctx, issuer.TenantID, contextID, issuer.SubjectID)
		if err != nil {
			a.logger.WarnContext(ctx, "issuer grant cache read failed", "error", err)
		} else if entry.Found {
			return entry.Allowed, nil
		}
	}

	allowed, err := a.grants.Exists(ctx, issuer.TenantID, contextID, issuer.SubjectID)
	if err != nil {
		return false, storageFault(err)
	}
	if a.ttl > 0 {
		if err := a.cache.Set(ctx, entry, allowed, a.ttl); err != nil {
			a.logger.WarnContext(ctx, "issuer grant cache write failed", "error", err)
		}
	}
	return allowed, nil
}

// Grant lets subjectID issue credentials for contextID in the actor's tenant.
func (a *GrantAuthorizer) Grant(ctx context.Context, actor security.Identity, contextID, subjectID string) (*domain.IssuerGrant, error) {
	contextID, subjectID, err := checkGrantScope(actor, contextID, subjectID)
	if err != nil {
		return nil, err
	}
	grant, err := a.grants.Create(ctx, &domain.IssuerGrant{
		TenantID:  actor.TenantID,
		ContextID: contextID,
		SubjectID: subjectID,
		GrantedBy: actor.SubjectID,
	})
	if err != nil {
		return nil, storageFault(err)
	}
	a.invalidate(ctx, actor.TenantID, contextID)
	return grant, nil
}

func (a *GrantAuthorizer) Revoke(ctx context.Context, actor security.Identity, contextID, subjectID string) error {
	contextID, subjectID, err := checkGrantScope(actor, contextID, subjectID)
	if err != nil {
		return err
	}
	if err := a.grants.Delete(ctx, actor.TenantID, contextID, subjectID); err != nil {
		if errors.Is(err, repository.ErrIssuerGrantNotFound) {
			return ErrGrantNotFound
		}
		return storageFault(err)
	}
	a.invalidate(ctx, actor.TenantID, contextID)
	return nil
}

func (a *GrantAuthorizer) List(ctx context.Context, actor security.Identity, contextID string, req repository.PageRequest) (repository.PageResult[domain.IssuerGrant], error) {
	contextID, err := checkGrantAdmin(actor, contextID)
	if err != nil {
		return repository.PageResult[domain.IssuerGrant]{}, err
	}
	page, err := a.grants.ListByContext(ctx, actor.TenantID, contextID, req)
	if err != nil {
		return repository.PageResult[domain.IssuerGrant]{}, storageFault(err)
	}
	return page, nil
}

func checkGrantAdmin(actor security.Identity, contextID string) (string, error) {
	if !actor.HasPermission(PermissionAdmin) {
		return "", ErrForbidden
	}
	contextID = strings.TrimSpace(contextID)
	if contextID == "" || actor.TenantID == "" {
		return "", ErrInvalidRequest
	}
	return contextID, nil
}

func checkGrantScope(actor security.Identity, contextID, subjectID string) (string, string, error) {
	contextID, err := checkGrantAdmin(actor, contextID)
	if err != nil {
		return "", "", err
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", "", ErrInvalidRequest
	}
	return contextID, subjectID, nil
}

// invalidate drops cached decisions for the context. A failure only delays
// the change until cached entries expire.
func (a *GrantAuthorizer) invalidate(ctx context.Context, tenantID, contextID string) {
	if err := a.cache.InvalidateContext(ctx, tenantID, contextID); err != nil {
		a.logger.WarnContext(ctx, "issuer grant cache invalidation failed", "tenant_id", tenantID, "context_id", contextID, "error", err)
	}
}
