package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
	"github.com/sandeepkv93/scan-attendance-service/internal/geo"
	"github.com/sandeepkv93/scan-attendance-service/internal/observability"
	"github.com/sandeepkv93/scan-attendance-service/internal/repository"
	"github.com/sandeepkv93/scan-attendance-service/internal/security"
)

// Codes carry at least 128 bits of entropy and fit the 64 character code column.
const (
	minCodeBytes = 16
	maxCodeBytes = 48
)

type IssuerConfig struct {
	MaxValidity         time.Duration
	CodeBytes           int
	MaxAttempts         int
	DefaultRadiusMeters float64
	MaxRadiusMeters     float64
}

// IssueRequest asks for a new credential. Tenant and issuer come from Issuer.
type IssueRequest struct {
	Issuer         security.Identity
	ContextID      string
	Validity       time.Duration
	MaxRedemptions *int
	Proximity      *domain.ProximityConstraint
}

type SessionIssuer struct {
	store   repository.SessionStore
	authz   IssuerAuthorizer
	unknown UnknownCodeCache
	cfg     IssuerConfig
	random  io.Reader
	now     func() time.Time
}

func NewSessionIssuer(store repository.SessionStore, authz IssuerAuthorizer, unknown UnknownCodeCache, cfg IssuerConfig) *SessionIssuer {
	cfg.CodeBytes = min(max(cfg.CodeBytes, minCodeBytes), maxCodeBytes)
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if unknown == nil {
		unknown = NewNoopUnknownCodeCache()
	}
	return &SessionIssuer{
		store:   store,
		authz:   authz,
		unknown: unknown,
		cfg:     cfg,
		random:  rand.Reader,
		now:     time.Now,
	}
}

// Issue persists a new active session. Prior sessions for the same context are
// left untouched.
func (i *SessionIssuer) Issue(ctx context.Context, req IssueRequest) (*domain.CredentialSession, error) {
	ctx, span := observability.Tracer().Start(ctx, "credential.issue")
	defer span.End()
	span.SetAttributes(attribute.String("context_id", req.ContextID))

	session, err := i.issue(ctx, req)
	switch {
	case err == nil:
		observability.RecordCredentialIssue(ctx, "success")
	case errors.Is(err, ErrIssuerNotAuthorized):
		observability.RecordCredentialIssue(ctx, "forbidden")
	default:
		if _, ok := AsFault(err); ok {
			observability.RecordCredentialIssue(ctx, "error")
		} else {
			observability.RecordCredentialIssue(ctx, "rejected")
		}
		span.RecordError(err)
	}
	return session, err
}

func (i *SessionIssuer) issue(ctx context.Context, req IssueRequest) (*domain.CredentialSession, error) {
	if err := i.validate(&req); err != nil {
		return nil, err
	}
	ok, err := i.authz.CanIssue(ctx, req.Issuer, req.ContextID)
	if err != nil {
		return nil, fmt.Errorf("authorize issuer: %w", err)
	}
	if !ok {
		return nil, ErrIssuerNotAuthorized
	}

	issuedAt := i.now().UTC().Truncate(time.Second)
	session := &domain.CredentialSession{
		TenantID:        req.Issuer.TenantID,
		ContextID:       req.ContextID,
		IssuedBy:        req.Issuer.SubjectID,
		IssuedAt:        issuedAt,
		ExpiresAt:       issuedAt.Add(req.Validity.Truncate(time.Second)),
		MaxRedemptions:  req.MaxRedemptions,
		RedemptionCount: 0,
		Active:          true,
	}
	session.SetProximity(req.Proximity)

	for attempt := 1; attempt <= i.cfg.MaxAttempts; attempt++ {
		code, err := generateCode(i.random, i.cfg.CodeBytes)
		if err != nil {
			return nil, fmt.Errorf("generate credential code: %w", err)
		}
		session.Code = code
		err = i.store.CreateIfAbsent(ctx, session)
		if errors.Is(err, repository.ErrCodeCollision) {
			continue
		}
		if err != nil {
			return nil, storageFault(fmt.Errorf("create credential session: %w", err))
		}
		// A guess of this exact code may have been cached as unknown.
		_ = i.unknown.Forget(ctx, code)
		return session, nil
	}
	return nil, ErrCodeSpaceExhausted
}

func (i *SessionIssuer) validate(req *IssueRequest) error {
	if strings.TrimSpace(req.Issuer.SubjectID) == "" || strings.TrimSpace(req.Issuer.TenantID) == "" {
		return fmt.Errorf("%w: issuer identity is required", ErrInvalidRequest)
	}
	req.ContextID = strings.TrimSpace(req.ContextID)
	if req.ContextID == "" || len(req.ContextID) > 128 {
		return fmt.Errorf("%w: context_id is required and at most 128 characters", ErrInvalidRequest)
	}
	if req.Validity <= 0 || (i.cfg.MaxValidity > 0 && req.Validity > i.cfg.MaxValidity) {
		return ErrInvalidValidity
	}
	if req.Validity < time.Second {
		return ErrInvalidValidity
	}
	if req.MaxRedemptions != nil && *req.MaxRedemptions < 1 {
		return fmt.Errorf("%w: max_redemptions must be at least 1", ErrInvalidRequest)
	}
	if req.Proximity != nil {
		p := *req.Proximity
		if !geo.ValidLocation(p.Reference) {
			return fmt.Errorf("%w: reference location out of range", ErrInvalidProximity)
		}
		if p.RadiusMeters == 0 {
			p.RadiusMeters = i.cfg.DefaultRadiusMeters
		}
		if p.RadiusMeters <= 0 || (i.cfg.MaxRadiusMeters > 0 && p.RadiusMeters > i.cfg.MaxRadiusMeters) {
			return fmt.Errorf("%w: radius must be positive and at most %.0fm", ErrInvalidProximity, i.cfg.MaxRadiusMeters)
		}
		req.Proximity = &p
	}
	return nil
}

func generateCode(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
