package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
	"github.com/sandeepkv93/scan-attendance-service/internal/http/middleware"
	"github.com/sandeepkv93/scan-attendance-service/internal/http/response"
	"github.com/sandeepkv93/scan-attendance-service/internal/observability"
	"github.com/sandeepkv93/scan-attendance-service/internal/security"
	"github.com/sandeepkv93/scan-attendance-service/internal/service"
)

// CredentialService is the subset of service.CredentialService the handler drives.
type CredentialService interface {
	Issue(ctx context.Context, req service.IssueRequest) (*service.IssueResult, error)
	Redeem(ctx context.Context, req service.RedeemRequest) (*service.RedeemResult, error)
	Invalidate(ctx context.Context, code string, actor security.Identity) error
	RetryRecord(ctx context.Context, code string, subject security.Identity) (*domain.AttendanceFact, error)
	Session(ctx context.Context, code string, viewer security.Identity) (*domain.CredentialSession, error)
	ListAttendance(ctx context.Context, viewer security.Identity, contextID, date string) ([]domain.AttendanceFact, error)
}

type CredentialHandler struct {
	svc             CredentialService
	defaultValidity time.Duration
}

func NewCredentialHandler(svc CredentialService, defaultValidity time.Duration) *CredentialHandler {
	return &CredentialHandler{svc: svc, defaultValidity: defaultValidity}
}

type issueRequest struct {
	ContextID       string                      `json:"context_id"`
	ValiditySeconds int64                       `json:"validity_seconds"`
	MaxRedemptions  *int                        `json:"max_redemptions"`
	Proximity       *domain.ProximityConstraint `json:"proximity"`
}

type redeemRequest struct {
	Payload  string           `json:"payload"`
	Location *domain.Location `json:"location"`
}

type sessionView struct {
	*domain.CredentialSession
	RedeemedBy []string `json:"redeemed_by,omitempty"`
	Remaining  *int     `json:"remaining_redemptions,omitempty"`
}

func (h *CredentialHandler) Issue(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	validity := h.defaultValidity
	if req.ValiditySeconds != 0 {
		validity = time.Duration(req.ValiditySeconds) * time.Second
	}
	res, err := h.svc.Issue(r.Context(), service.IssueRequest{
		Issuer:         id,
		ContextID:      strings.TrimSpace(req.ContextID),
		Validity:       validity,
		MaxRedemptions: req.MaxRedemptions,
		Proximity:      req.Proximity,
	})
	if err != nil {
		observability.Audit(r, "credential.issue", "outcome", "failure", "actor", id.SubjectID, "error", err.Error())
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "credential.issue",
		"outcome", "success",
		"actor", id.SubjectID,
		"context_id", res.Session.ContextID,
		"code_fp", observability.CodeFingerprint(res.Code),
	)
	response.JSON(w, r, http.StatusCreated, res)
}

func (h *CredentialHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	res, err := h.svc.Redeem(r.Context(), service.RedeemRequest{Payload: req.Payload, Subject: id, Location: req.Location})
	if res == nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "credential.redeem",
		"subject_id", id.SubjectID,
		"outcome", string(res.Outcome),
		"reason", string(res.Reason),
	)
	if err != nil {
		fault, isFault := service.AsFault(err)
		if isFault && fault.Reason == domain.ReasonRecordFailed {
			response.JSON(w, r, http.StatusAccepted, res)
			return
		}
		writeServiceError(w, r, err)
		return
	}
	if res.Outcome == domain.OutcomeRejected {
		response.Error(w, r, rejectStatus(res.Reason), string(res.Reason), rejectMessage(res.Reason), map[string]any{
			"outcome":   res.Outcome,
			"retryable": res.Retryable,
		})
		return
	}
	status := http.StatusOK
	if res.Outcome == domain.OutcomeAccepted {
		status = http.StatusCreated
	}
	response.JSON(w, r, status, res)
}

func (h *CredentialHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	code := chi.URLParam(r, "code")
	if err := h.svc.Invalidate(r.Context(), code, id); err != nil {
		observability.Audit(r, "credential.invalidate", "outcome", "failure", "actor", id.SubjectID, "code_fp", observability.CodeFingerprint(code))
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "credential.invalidate", "outcome", "success", "actor", id.SubjectID, "code_fp", observability.CodeFingerprint(code))
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *CredentialHandler) RetryRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	fact, err := h.svc.RetryRecord(r.Context(), chi.URLParam(r, "code"), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, fact)
}

func (h *CredentialHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	session, err := h.svc.Session(r.Context(), chi.URLParam(r, "code"), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, sessionView{
		CredentialSession: session,
		RedeemedBy:        session.RedeemedBy,
		Remaining:         session.RemainingRedemptions(),
	})
}

func (h *CredentialHandler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	facts, err := h.svc.ListAttendance(r.Context(), id, chi.URLParam(r, "context_id"), r.URL.Query().Get("date"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if facts == nil {
		facts = []domain.AttendanceFact{}
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"items": facts})
}

func identity(w http.ResponseWriter, r *http.Request) (security.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", nil)
	}
	return id, ok
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if fault, ok := service.AsFault(err); ok {
		status := http.StatusServiceUnavailable
		if fault.Reason == domain.ReasonRecordFailed {
			status = http.StatusAccepted
		}
		response.Retry(w, r, status, string(fault.Reason), "temporary failure, retry is safe", time.Second)
		return
	}
	switch {
	case errors.Is(err, service.ErrInvalidValidity),
		errors.Is(err, service.ErrInvalidProximity),
		errors.Is(err, service.ErrInvalidRequest):
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, service.ErrIssuerNotAuthorized), errors.Is(err, service.ErrForbidden):
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "forbidden", nil)
	case errors.Is(err, service.ErrCredentialNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "credential not found", nil)
	case errors.Is(err, service.ErrGrantNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "issuer grant not found", nil)
	case errors.Is(err, service.ErrNotRedeemed):
		response.Error(w, r, http.StatusConflict, "NOT_REDEEMED", err.Error(), nil)
	case errors.Is(err, service.ErrCodeSpaceExhausted):
		response.Error(w, r, http.StatusServiceUnavailable, "CODE_SPACE_EXHAUSTED", "could not issue credential, retry", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func rejectStatus(reason domain.Reason) int {
	switch reason {
	case domain.ReasonInvalidPayload:
		return http.StatusBadRequest
	case domain.ReasonUnknownCode:
		return http.StatusNotFound
	case domain.ReasonTenantMismatch:
		return http.StatusForbidden
	case domain.ReasonSessionExpired, domain.ReasonSessionInactive:
		return http.StatusGone
	case domain.ReasonRedemptionLimit:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func rejectMessage(reason domain.Reason) string {
	switch reason {
	case domain.ReasonInvalidPayload:
		return "credential payload could not be read"
	case domain.ReasonUnknownCode:
		return "credential not recognised"
	case domain.ReasonTenantMismatch:
		return "credential belongs to another organisation"
	case domain.ReasonSessionExpired:
		return "credential has expired"
	case domain.ReasonSessionInactive:
		return "credential is no longer active"
	case domain.ReasonRedemptionLimit:
		return "credential has reached its redemption limit"
	case domain.ReasonOutOfRange:
		return "too far from the credential location"
	default:
		return "credential rejected"
	}
}
