package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
	"github.com/sandeepkv93/scan-attendance-service/internal/http/response"
	"github.com/sandeepkv93/scan-attendance-service/internal/observability"
	"github.com/sandeepkv93/scan-attendance-service/internal/repository"
	"github.com/sandeepkv93/scan-attendance-service/internal/security"
)

type Sweeper interface {
	SweepOnce(ctx context.Context) (int64, error)
}

// GrantManager maintains per-context issuer grants.
type GrantManager interface {
	Grant(ctx context.Context, actor security.Identity, contextID, subjectID string) (*domain.IssuerGrant, error)
	Revoke(ctx context.Context, actor security.Identity, contextID, subjectID string) error
	List(ctx context.Context, actor security.Identity, contextID string, req repository.PageRequest) (repository.PageResult[domain.IssuerGrant], error)
}

// AdminHandler exposes operator actions: the expiry sweep that normally runs
// on a schedule and issuer grant management.
type AdminHandler struct {
	sweeper Sweeper
	grants  GrantManager
}

func NewAdminHandler(sweeper Sweeper, grants GrantManager) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, grants: grants}
}

type grantRequest struct {
	SubjectID string `json:"subject_id"`
}

func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.sweeper.SweepOnce(r.Context())
	if err != nil {
		observability.Audit(r, "credential.sweep", "outcome", "failure", "error", err.Error())
		response.Error(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "sweep failed, retry is safe", nil)
		return
	}
	observability.Audit(r, "credential.sweep", "outcome", "success", "count", n)
	response.JSON(w, r, http.StatusOK, map[string]int64{"deactivated": n})
}

func (h *AdminHandler) GrantIssuer(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	contextID := chi.URLParam(r, "context_id")
	grant, err := h.grants.Grant(r.Context(), actor, contextID, req.SubjectID)
	if err != nil {
		observability.Audit(r, "issuer_grant.create", "outcome", "failure", "context_id", contextID, "subject_id", req.SubjectID, "error", err.Error())
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "issuer_grant.create", "outcome", "success", "context_id", grant.ContextID, "subject_id", grant.SubjectID, "actor", actor.SubjectID)
	response.JSON(w, r, http.StatusCreated, grant)
}

func (h *AdminHandler) RevokeIssuer(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	contextID := chi.URLParam(r, "context_id")
	subjectID := chi.URLParam(r, "subject_id")
	if err := h.grants.Revoke(r.Context(), actor, contextID, subjectID); err != nil {
		observability.Audit(r, "issuer_grant.revoke", "outcome", "failure", "context_id", contextID, "subject_id", subjectID, "error", err.Error())
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "issuer_grant.revoke", "outcome", "success", "context_id", contextID, "subject_id", subjectID, "actor", actor.SubjectID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *AdminHandler) ListIssuers(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	result, err := h.grants.List(r.Context(), actor, chi.URLParam(r, "context_id"), repository.PageRequest{Page: page, PageSize: size})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}
