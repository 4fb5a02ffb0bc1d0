package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
	"github.com/sandeepkv93/scan-attendance-service/internal/observability"
)

var ErrIssuerGrantNotFound = errors.New("issuer grant not found")

type IssuerGrantRepository interface {
	Exists(ctx context.Context, tenantID, contextID, subjectID string) (bool, error)
	// Create is idempotent on (tenant, context, subject) and returns the stored grant.
	Create(ctx context.Context, grant *domain.IssuerGrant) (*domain.IssuerGrant, error)
	Delete(ctx context.Context, tenantID, contextID, subjectID string) error
	ListByContext(ctx context.Context, tenantID, contextID string, req PageRequest) (PageResult[domain.IssuerGrant], error)
}

type GormIssuerGrantRepository struct{ db *gorm.DB }

func NewIssuerGrantRepository(db *gorm.DB) IssuerGrantRepository {
	return &GormIssuerGrantRepository{db: db}
}

func (r *GormIssuerGrantRepository) Exists(ctx context.Context, tenantID, contextID, subjectID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.IssuerGrant{}).
		Where("tenant_id = ? AND context_id = ? AND subject_id = ?", tenantID, contextID, subjectID).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "issuer_grant", "exists", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(ctx, "issuer_grant", "exists", "success")
	return count > 0, nil
}

func (r *GormIssuerGrantRepository) Create(ctx context.Context, grant *domain.IssuerGrant) (*domain.IssuerGrant, error) {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "context_id"},
			{Name: "subject_id"},
		},
		DoNothing: true,
	}).Create(grant).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "issuer_grant", "create", "error")
		return nil, err
	}
	var stored domain.IssuerGrant
	err = r.db.WithContext(ctx).
		Where("tenant_id = ? AND context_id = ? AND subject_id = ?", grant.TenantID, grant.ContextID, grant.SubjectID).
		First(&stored).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "issuer_grant", "create", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "issuer_grant", "create", "success")
	return &stored, nil
}

func (r *GormIssuerGrantRepository) Delete(ctx context.Context, tenantID, contextID, subjectID string) error {
	res := r.db.WithContext(ctx).
		Where("tenant_id = ? AND context_id = ? AND subject_id = ?", tenantID, contextID, subjectID).
		Delete(&domain.IssuerGrant{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "issuer_grant", "delete", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "issuer_grant", "delete", "not_found")
		return ErrIssuerGrantNotFound
	}
	observability.RecordRepositoryOperation(ctx, "issuer_grant", "delete", "success")
	return nil
}

func (r *GormIssuerGrantRepository) ListByContext(ctx context.Context, tenantID, contextID string, req PageRequest) (PageResult[domain.IssuerGrant], error) {
	req = req.Normalized()
	scope := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&domain.IssuerGrant{}).
			Where("tenant_id = ? AND context_id = ?", tenantID, contextID)
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "issuer_grant", "list_by_context", "error")
		return PageResult[domain.IssuerGrant]{}, err
	}
	var items []domain.IssuerGrant
	if err := scope().Order("subject_id ASC, id ASC").Offset(req.Offset()).Limit(req.PageSize).Find(&items).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "issuer_grant", "list_by_context", "error")
		return PageResult[domain.IssuerGrant]{}, err
	}
	observability.RecordRepositoryOperation(ctx, "issuer_grant", "list_by_context", "success")
	return newPageResult(items, req, total), nil
}
