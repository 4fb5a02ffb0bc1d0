package repository

import (
	"context"
	"sync"
	"time"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
)

type InMemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.CredentialSession
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]*domain.CredentialSession)}
}

func (s *InMemorySessionStore) CreateIfAbsent(_ context.Context, session *domain.CredentialSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.Code]; exists {
		return ErrCodeCollision
	}
	now := time.Now().UTC()
	session.CreatedAt, session.UpdatedAt = now, now
	s.sessions[session.Code] = cloneSession(session)
	return nil
}

func (s *InMemorySessionStore) Get(_ context.Context, code string) (*domain.CredentialSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[code]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (s *InMemorySessionStore) ConditionalRedeem(_ context.Context, code, subjectID string, now time.Time) (RedeemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[code]
	if !ok {
		return RedeemResult{}, ErrSessionNotFound
	}
	if blocker := session.RedemptionBlocker(subjectID, now); blocker != "" {
		return RedeemResult{Blocker: blocker, RedemptionCount: session.RedemptionCount}, nil
	}
	session.RedeemedBy = append(session.RedeemedBy, subjectID)
	session.RedemptionCount++
	session.UpdatedAt = now.UTC()
	return RedeemResult{Applied: true, RedemptionCount: session.RedemptionCount}, nil
}

func (s *InMemorySessionStore) MarkInactive(_ context.Context, code, reason string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[code]
	if !ok {
		return false, ErrSessionNotFound
	}
	if !session.Active {
		return false, nil
	}
	deactivate(session, reason, now)
	return true, nil
}

func (s *InMemorySessionStore) SweepExpired(_ context.Context, cutoff, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, session := range s.sessions {
		if session.Active && !session.ExpiresAt.After(cutoff) {
			deactivate(session, domain.DeactivatedBySweep, now)
			n++
		}
	}
	return n, nil
}

func deactivate(session *domain.CredentialSession, reason string, now time.Time) {
	at := now.UTC()
	session.Active = false
	session.DeactivatedAt = &at
	session.DeactivatedReason = &reason
	session.UpdatedAt = at
}
