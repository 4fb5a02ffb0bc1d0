package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
	"github.com/sandeepkv93/scan-attendance-service/internal/geo"
	"github.com/sandeepkv93/scan-attendance-service/internal/observability"
	"github.com/sandeepkv93/scan-attendance-service/internal/payload"
	"github.com/sandeepkv93/scan-attendance-service/internal/repository"
)

// Decision is the validator's answer for one attempt. Session is set whenever
// the code resolved to a session in the caller's tenant.
type Decision struct {
	Outcome         domain.Outcome
	Reason          domain.Reason
	Code            string
	Session         *domain.CredentialSession
	RedemptionCount int
}

func (d Decision) Accepted() bool { return d.Outcome == domain.OutcomeAccepted }

// ScanValidator decides redemption attempts. The decoded payload only yields the
// code; every other check uses the stored session.
type ScanValidator struct {
	store       repository.SessionStore
	unknown     UnknownCodeCache
	negativeTTL time.Duration
}

func NewScanValidator(store repository.SessionStore, unknown UnknownCodeCache, negativeTTL time.Duration) *ScanValidator {
	if unknown == nil {
		unknown = NewNoopUnknownCodeCache()
	}
	return &ScanValidator{store: store, unknown: unknown, negativeTTL: negativeTTL}
}

// Validate evaluates the attempt in order: decode, existence, tenant, inactive,
// expiry, duplicate, ceiling, proximity, then the atomic conditional redeem. A
// subject that already redeemed is reported as a duplicate even when the
// ceiling is full. Infrastructure failures return a *FaultError.
func (v *ScanValidator) Validate(ctx context.Context, rawPayload string, attempt domain.RedemptionAttempt) (Decision, error) {
	decoded, err := payload.Decode(rawPayload)
	if err != nil {
		return reject(domain.ReasonInvalidPayload), nil
	}
	code := decoded.Code
	attempt.Code = code

	session, err := v.lookup(ctx, code)
	if err != nil {
		return Decision{Outcome: domain.OutcomeRejected, Reason: domain.ReasonStorageUnavailable, Code: code}, err
	}
	if session == nil {
		return Decision{Outcome: domain.OutcomeRejected, Reason: domain.ReasonUnknownCode, Code: code}, nil
	}
	if session.TenantID != attempt.ClaimedTenantID {
		return Decision{Outcome: domain.OutcomeRejected, Reason: domain.ReasonTenantMismatch, Code: code}, nil
	}

	decided := func(outcome domain.Outcome, reason domain.Reason, count int) Decision {
		return Decision{Outcome: outcome, Reason: reason, Code: code, Session: session, RedemptionCount: count}
	}

	if blocker := session.RedemptionBlocker(attempt.SubjectID, attempt.AttemptedAt); blocker != "" {
		return decided(outcomeFor(blocker), blocker, session.RedemptionCount), nil
	}
	if prox, required := session.Proximity(); required {
		if attempt.Location == nil || !geo.ValidLocation(*attempt.Location) || !geo.Within(prox, *attempt.Location) {
			return decided(domain.OutcomeRejected, domain.ReasonOutOfRange, session.RedemptionCount), nil
		}
	}

	res, err := v.store.ConditionalRedeem(ctx, code, attempt.SubjectID, attempt.AttemptedAt)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return decided(domain.OutcomeRejected, domain.ReasonUnknownCode, 0), nil
	}
	if err != nil {
		// The write may or may not have landed; a retry resolves to ACCEPTED or ALREADY_REDEEMED.
		return decided(domain.OutcomeRejected, domain.ReasonStorageUnavailable, session.RedemptionCount),
			storageFault(fmt.Errorf("conditional redeem: %w", err))
	}
	if !res.Applied {
		return decided(outcomeFor(res.Blocker), res.Blocker, res.RedemptionCount), nil
	}
	session.RedemptionCount = res.RedemptionCount
	session.RedeemedBy = append(session.RedeemedBy, attempt.SubjectID)
	return decided(domain.OutcomeAccepted, "", res.RedemptionCount), nil
}

// lookup returns nil without error when the code is unknown.
func (v *ScanValidator) lookup(ctx context.Context, code string) (*domain.CredentialSession, error) {
	if seen, err := v.unknown.Seen(ctx, code); err == nil && seen {
		observability.RecordNegativeLookupEvent(ctx, "hit")
		return nil, nil
	}
	session, err := v.store.Get(ctx, code)
	if errors.Is(err, repository.ErrSessionNotFound) {
		observability.RecordNegativeLookupEvent(ctx, "miss")
		_ = v.unknown.Remember(ctx, code, v.negativeTTL)
		return nil, nil
	}
	if err != nil {
		return nil, storageFault(fmt.Errorf("get credential session: %w", err))
	}
	return session, nil
}

func reject(reason domain.Reason) Decision {
	return Decision{Outcome: domain.OutcomeRejected, Reason: reason}
}

func outcomeFor(reason domain.Reason) domain.Outcome {
	if reason == domain.ReasonAlreadyRedeemed {
		return domain.OutcomeAlreadyRedeemed
	}
	return domain.OutcomeRejected
}
