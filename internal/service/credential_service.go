package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
	"github.com/sandeepkv93/scan-attendance-service/internal/observability"
	"github.com/sandeepkv93/scan-attendance-service/internal/payload"
	"github.com/sandeepkv93/scan-attendance-service/internal/repository"
	"github.com/sandeepkv93/scan-attendance-service/internal/security"
)

type IssueResult struct {
	Code      string                    `json:"code"`
	Payload   string                    `json:"payload"`
	ExpiresAt time.Time                 `json:"expires_at"`
	Session   *domain.CredentialSession `json:"session"`
}

type RedeemRequest struct {
	Payload  string
	Subject  security.Identity
	Location *domain.Location
}

// RedeemResult is what a redeemer sees. Reason is empty on a clean accept.
type RedeemResult struct {
	Outcome         domain.Outcome         `json:"outcome"`
	Reason          domain.Reason          `json:"reason,omitempty"`
	Retryable       bool                   `json:"retryable"`
	Fact            *domain.AttendanceFact `json:"fact,omitempty"`
	RedemptionCount int                    `json:"-"`
}

// CredentialService is the entry point used by transports.
type CredentialService struct {
	issuer     *SessionIssuer
	validator  *ScanValidator
	recorder   *AttendanceRecorder
	store      repository.SessionStore
	attendance repository.AttendanceRepository
	authz      IssuerAuthorizer
	codec      *payload.Codec
	logger     *slog.Logger
	now        func() time.Time
}

func NewCredentialService(
	issuer *SessionIssuer,
	validator *ScanValidator,
	recorder *AttendanceRecorder,
	store repository.SessionStore,
	attendance repository.AttendanceRepository,
	authz IssuerAuthorizer,
	codec *payload.Codec,
	logger *slog.Logger,
) *CredentialService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialService{
		issuer:     issuer,
		validator:  validator,
		recorder:   recorder,
		store:      store,
		attendance: attendance,
		authz:      authz,
		codec:      codec,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock replaces the time source for the service and its issuer.
func (s *CredentialService) SetClock(now func() time.Time) {
	s.now = now
	s.issuer.now = now
}

func (s *CredentialService) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	session, err := s.issuer.Issue(ctx, req)
	if err != nil {
		return nil, err
	}
	encoded, err := s.codec.Encode(session, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("encode credential payload: %w", err)
	}
	s.logger.InfoContext(ctx, "credential issued",
		"code_fp", observability.CodeFingerprint(session.Code),
		"tenant_id", session.TenantID,
		"context_id", session.ContextID,
		"issued_by", session.IssuedBy,
		"expires_at", session.ExpiresAt,
	)
	return &IssueResult{Code: session.Code, Payload: encoded, ExpiresAt: session.ExpiresAt, Session: session}, nil
}

// Redeem validates a scan and records attendance on accept. A non-nil error is
// always a *FaultError and the returned result still describes the outcome:
// RECORD_FAILED keeps Outcome ACCEPTED because the session was already advanced.
func (s *CredentialService) Redeem(ctx context.Context, req RedeemRequest) (*RedeemResult, error) {
	started := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "credential.redeem")
	defer span.End()

	now := s.now().UTC()
	decision, err := s.validator.Validate(ctx, req.Payload, domain.RedemptionAttempt{
		ClaimedTenantID: req.Subject.TenantID,
		SubjectID:       req.Subject.SubjectID,
		AttemptedAt:     now,
		Location:        req.Location,
	})
	result := &RedeemResult{
		Outcome:         decision.Outcome,
		Reason:          decision.Reason,
		Retryable:       decision.Reason.Retryable(),
		RedemptionCount: decision.RedemptionCount,
	}
	if err == nil {
		switch decision.Outcome {
		case domain.OutcomeAccepted:
			result.Fact, err = s.recorder.Record(ctx, decision.Session.TenantID, decision.Session.ContextID, req.Subject.SubjectID, decision.Code, now)
		case domain.OutcomeAlreadyRedeemed:
			result.Fact, err = s.priorFact(ctx, decision, req.Subject.SubjectID, now)
		}
		if err != nil {
			result.Reason = domain.ReasonRecordFailed
			result.Retryable = true
		}
	}

	span.SetAttributes(
		attribute.String("outcome", string(result.Outcome)),
		attribute.String("reason", string(result.Reason)),
	)
	if err != nil {
		span.RecordError(err)
	}
	observability.RecordRedeemOutcome(ctx, string(result.Outcome), string(result.Reason), time.Since(started))
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "credential redeem",
		"code_fp", observability.CodeFingerprint(decision.Code),
		"subject_id", req.Subject.SubjectID,
		"tenant_id", req.Subject.TenantID,
		"outcome", result.Outcome,
		"reason", result.Reason,
		"error", err,
	)
	return result, err
}

// priorFact returns the fact stored for the subject's day in this context,
// writing it only if the earlier accept ended in RECORD_FAILED. An existing
// fact is never rewritten by a duplicate scan.
func (s *CredentialService) priorFact(ctx context.Context, decision Decision, subjectID string, now time.Time) (*domain.AttendanceFact, error) {
	session := decision.Session
	when := redemptionTime(session, now)
	fact, err := s.recorder.Existing(ctx, session.TenantID, session.ContextID, subjectID, when)
	if err != nil {
		s.logger.WarnContext(ctx, "prior attendance lookup failed", "code_fp", observability.CodeFingerprint(decision.Code), "error", err)
		return nil, nil
	}
	if fact != nil {
		return fact, nil
	}
	return s.recorder.Record(ctx, session.TenantID, session.ContextID, subjectID, decision.Code, when)
}

// Invalidate deactivates the session. Repeating it is a no-op; unknown codes
// and codes from another tenant both report ErrCredentialNotFound.
func (s *CredentialService) Invalidate(ctx context.Context, code string, actor security.Identity) error {
	ctx, span := observability.Tracer().Start(ctx, "credential.invalidate")
	defer span.End()

	session, err := s.sessionFor(ctx, code, actor)
	if err != nil {
		observability.RecordCredentialInvalidate(ctx, outcomeLabel(err))
		return err
	}
	if !canManage(session, actor) {
		observability.RecordCredentialInvalidate(ctx, "forbidden")
		return ErrForbidden
	}
	changed, err := s.store.MarkInactive(ctx, code, domain.DeactivatedByIssuer, s.now().UTC())
	if errors.Is(err, repository.ErrSessionNotFound) {
		observability.RecordCredentialInvalidate(ctx, "not_found")
		return ErrCredentialNotFound
	}
	if err != nil {
		span.RecordError(err)
		observability.RecordCredentialInvalidate(ctx, "error")
		return storageFault(fmt.Errorf("mark credential inactive: %w", err))
	}
	outcome := "success"
	if !changed {
		outcome = "noop"
	}
	observability.RecordCredentialInvalidate(ctx, outcome)
	s.logger.InfoContext(ctx, "credential invalidated",
		"code_fp", observability.CodeFingerprint(code),
		"actor", actor.SubjectID,
		"changed", changed,
	)
	return nil
}

// RetryRecord re-runs the recording step for a subject whose redemption was
// accepted but not recorded. It never touches the session.
func (s *CredentialService) RetryRecord(ctx context.Context, code string, subject security.Identity) (*domain.AttendanceFact, error) {
	session, err := s.sessionFor(ctx, code, subject)
	if err != nil {
		return nil, err
	}
	if !session.HasRedeemed(subject.SubjectID) {
		return nil, ErrNotRedeemed
	}
	when := redemptionTime(session, s.now().UTC())
	fact, err := s.recorder.Existing(ctx, session.TenantID, session.ContextID, subject.SubjectID, when)
	if err != nil {
		return nil, recordFault(err)
	}
	if fact != nil {
		return fact, nil
	}
	return s.recorder.Record(ctx, session.TenantID, session.ContextID, subject.SubjectID, code, when)
}

// Session returns the stored session for viewer's tenant. Redeemer ids are
// cleared unless viewer may manage the session.
func (s *CredentialService) Session(ctx context.Context, code string, viewer security.Identity) (*domain.CredentialSession, error) {
	session, err := s.sessionFor(ctx, code, viewer)
	if err != nil {
		return nil, err
	}
	if !canManage(session, viewer) {
		session.RedeemedBy = nil
	}
	return session, nil
}

func (s *CredentialService) CanManage(session *domain.CredentialSession, viewer security.Identity) bool {
	return session.TenantID == viewer.TenantID && canManage(session, viewer)
}

// ListAttendance returns the context's facts, optionally for a single date.
func (s *CredentialService) ListAttendance(ctx context.Context, viewer security.Identity, contextID, date string) ([]domain.AttendanceFact, error) {
	if contextID == "" {
		return nil, fmt.Errorf("%w: context_id is required", ErrInvalidRequest)
	}
	if date != "" {
		if _, err := time.Parse(domain.AttendanceDateLayout, date); err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
		}
	}
	ok, err := canReadAttendance(ctx, s.authz, viewer, contextID)
	if err != nil {
		return nil, fmt.Errorf("authorize attendance read: %w", err)
	}
	if !ok {
		return nil, ErrForbidden
	}
	facts, err := s.attendance.ListByContext(ctx, viewer.TenantID, contextID, date)
	if err != nil {
		return nil, storageFault(fmt.Errorf("list attendance: %w", err))
	}
	return facts, nil
}

func (s *CredentialService) sessionFor(ctx context.Context, code string, viewer security.Identity) (*domain.CredentialSession, error) {
	session, err := s.store.Get(ctx, code)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, storageFault(fmt.Errorf("get credential session: %w", err))
	}
	if session.TenantID != viewer.TenantID {
		return nil, ErrCredentialNotFound
	}
	return session, nil
}

// redemptionTime places a late recording inside the session's validity window
// so the fact lands on the day the scan happened.
func redemptionTime(session *domain.CredentialSession, now time.Time) time.Time {
	if now.Before(session.ExpiresAt) {
		return now
	}
	return session.ExpiresAt.Add(-time.Second)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrCredentialNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
