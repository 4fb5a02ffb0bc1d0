package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
	"github.com/sandeepkv93/scan-attendance-service/internal/observability"
)

var ErrAttendanceNotFound = errors.New("attendance fact not found")

type AttendanceRepository interface {
	// Upsert writes fact by its natural key and returns the stored row.
	Upsert(ctx context.Context, fact *domain.AttendanceFact) (*domain.AttendanceFact, error)
	FindByNaturalKey(ctx context.Context, tenantID, contextID, subjectID, date string) (*domain.AttendanceFact, error)
	ListByContext(ctx context.Context, tenantID, contextID, date string) ([]domain.AttendanceFact, error)
}

type GormAttendanceRepository struct{ db *gorm.DB }

func NewAttendanceRepository(db *gorm.DB) AttendanceRepository {
	return &GormAttendanceRepository{db: db}
}

func (r *GormAttendanceRepository) Upsert(ctx context.Context, fact *domain.AttendanceFact) (*domain.AttendanceFact, error) {
	fact.MarkedAt = fact.MarkedAt.UTC()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "context_id"},
			{Name: "subject_id"},
			{Name: "attendance_date"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"source", "marked_at", "session_code", "updated_at"}),
	}).Create(fact).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "attendance_fact", "upsert", "error")
		return nil, err
	}
	stored, err := r.FindByNaturalKey(ctx, fact.TenantID, fact.ContextID, fact.SubjectID, fact.AttendanceDate)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "attendance_fact", "upsert", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "attendance_fact", "upsert", "success")
	return stored, nil
}

func (r *GormAttendanceRepository) FindByNaturalKey(ctx context.Context, tenantID, contextID, subjectID, date string) (*domain.AttendanceFact, error) {
	var fact domain.AttendanceFact
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND context_id = ? AND subject_id = ? AND attendance_date = ?", tenantID, contextID, subjectID, date).
		First(&fact).Error
	return r.found(ctx, "find_by_natural_key", &fact, err)
}

func (r *GormAttendanceRepository) ListByContext(ctx context.Context, tenantID, contextID, date string) ([]domain.AttendanceFact, error) {
	var facts []domain.AttendanceFact
	q := r.db.WithContext(ctx).Where("tenant_id = ? AND context_id = ?", tenantID, contextID)
	if date != "" {
		q = q.Where("attendance_date = ?", date)
	}
	if err := q.Order("attendance_date DESC, marked_at ASC, id ASC").Find(&facts).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "attendance_fact", "list_by_context", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "attendance_fact", "list_by_context", "success")
	return facts, nil
}

func (r *GormAttendanceRepository) found(ctx context.Context, op string, fact *domain.AttendanceFact, err error) (*domain.AttendanceFact, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "attendance_fact", op, "not_found")
			return nil, ErrAttendanceNotFound
		}
		observability.RecordRepositoryOperation(ctx, "attendance_fact", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "attendance_fact", op, "success")
	return fact, nil
}
