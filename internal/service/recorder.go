package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
	"github.com/sandeepkv93/scan-attendance-service/internal/observability"
	"github.com/sandeepkv93/scan-attendance-service/internal/repository"
)

// AttendanceRecorder turns an accepted redemption into an attendance fact. It
// never deletes and never touches session state.
type AttendanceRecorder struct {
	repo repository.AttendanceRepository
	loc  *time.Location
}

func NewAttendanceRecorder(repo repository.AttendanceRepository, loc *time.Location) *AttendanceRecorder {
	if loc == nil {
		loc = time.UTC
	}
	return &AttendanceRecorder{repo: repo, loc: loc}
}

// Record upserts by (tenant, context, subject, date(when)). Failures are
// RECORD_FAILED faults; retrying with the same arguments is idempotent.
func (r *AttendanceRecorder) Record(ctx context.Context, tenantID, contextID, subjectID, sessionCode string, when time.Time) (*domain.AttendanceFact, error) {
	ctx, span := observability.Tracer().Start(ctx, "attendance.record")
	defer span.End()

	fact, err := r.repo.Upsert(ctx, &domain.AttendanceFact{
		TenantID:       tenantID,
		ContextID:      contextID,
		SubjectID:      subjectID,
		AttendanceDate: domain.AttendanceDate(when, r.loc),
		MarkedAt:       when.UTC(),
		Source:         domain.AttendanceSourceCredential,
		SessionCode:    sessionCode,
	})
	if err != nil {
		span.RecordError(err)
		observability.RecordAttendanceRecord(ctx, "error")
		return nil, recordFault(fmt.Errorf("record attendance: %w", err))
	}
	observability.RecordAttendanceRecord(ctx, "success")
	return fact, nil
}

// Existing returns the fact already stored for (tenant, context, subject,
// date(when)), or nil when none exists.
func (r *AttendanceRecorder) Existing(ctx context.Context, tenantID, contextID, subjectID string, when time.Time) (*domain.AttendanceFact, error) {
	fact, err := r.repo.FindByNaturalKey(ctx, tenantID, contextID, subjectID, domain.AttendanceDate(when, r.loc))
	if errors.Is(err, repository.ErrAttendanceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fact, nil
}

func (r *AttendanceRecorder) Location() *time.Location { return r.loc }
