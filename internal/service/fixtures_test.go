package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
	"github.com/sandeepkv93/scan-attendance-service/internal/payload"
	"github.com/sandeepkv93/scan-attendance-service/internal/repository"
	"github.com/sandeepkv93/scan-attendance-service/internal/security"
)

var (
	teacher  = security.Identity{SubjectID: "teacher-1", TenantID: "tenant-a", Permissions: []string{PermissionIssue}}
	admin    = security.Identity{SubjectID: "admin-1", TenantID: "tenant-a", Permissions: []string{PermissionInvalidate, PermissionReadAttendance}}
	outsider = security.Identity{SubjectID: "teacher-9", TenantID: "tenant-b", Permissions: []string{PermissionIssue, PermissionInvalidate}}
)

func student(n int) security.Identity {
	return security.Identity{SubjectID: fmt.Sprintf("student-%02d", n), TenantID: "tenant-a"}
}

type serviceFixture struct {
	svc        *CredentialService
	store      repository.SessionStore
	attendance *memoryAttendanceRepo
	unknown    *InMemoryUnknownCodeCache

	mu  sync.Mutex
	now time.Time
}

func newServiceFixture(t *testing.T, store repository.SessionStore) *serviceFixture {
	t.Helper()
	if store == nil {
		store = repository.NewInMemorySessionStore()
	}
	f := &serviceFixture{
		store:      store,
		attendance: newMemoryAttendanceRepo(),
		unknown:    NewInMemoryUnknownCodeCache(),
		now:        time.Now().UTC().Truncate(time.Second),
	}
	authz := NewPermissionAuthorizer()
	issuer := NewSessionIssuer(store, authz, f.unknown, IssuerConfig{
		MaxValidity:         4 * time.Hour,
		CodeBytes:           24,
		MaxAttempts:         3,
		DefaultRadiusMeters: 100,
		MaxRadiusMeters:     1000,
	})
	f.svc = NewCredentialService(
		issuer,
		NewScanValidator(store, f.unknown, time.Minute),
		NewAttendanceRecorder(f.attendance, time.UTC),
		store,
		f.attendance,
		authz,
		payload.NewCodec(payload.Version2),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	f.svc.SetClock(f.clock)
	return f
}

func (f *serviceFixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *serviceFixture) setNow(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func (f *serviceFixture) issue(t *testing.T, maxRedemptions *int, prox *domain.ProximityConstraint) *IssueResult {
	t.Helper()
	res, err := f.svc.Issue(context.Background(), IssueRequest{
		Issuer:         teacher,
		ContextID:      "class-101",
		Validity:       15 * time.Minute,
		MaxRedemptions: maxRedemptions,
		Proximity:      prox,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return res
}

func (f *serviceFixture) redeem(t *testing.T, encoded string, who security.Identity, loc *domain.Location) *RedeemResult {
	t.Helper()
	res, err := f.svc.Redeem(context.Background(), RedeemRequest{Payload: encoded, Subject: who, Location: loc})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	return res
}

func intPtr(v int) *int { return &v }

type memoryAttendanceRepo struct {
	mu          sync.Mutex
	facts       map[string]*domain.AttendanceFact
	nextID      uint
	failUpserts int
}

func newMemoryAttendanceRepo() *memoryAttendanceRepo {
	return &memoryAttendanceRepo{facts: make(map[string]*domain.AttendanceFact)}
}

func (r *memoryAttendanceRepo) failNext(n int) {
	r.mu.Lock()
	r.failUpserts = n
	r.mu.Unlock()
}

func (r *memoryAttendanceRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.facts)
}

func (r *memoryAttendanceRepo) Upsert(_ context.Context, fact *domain.AttendanceFact) (*domain.AttendanceFact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpserts > 0 {
		r.failUpserts--
		return nil, errors.New("attendance database unavailable")
	}
	key := naturalKey(fact.TenantID, fact.ContextID, fact.SubjectID, fact.AttendanceDate)
	if existing, ok := r.facts[key]; ok {
		existing.Source = fact.Source
		existing.MarkedAt = fact.MarkedAt
		existing.SessionCode = fact.SessionCode
		out := *existing
		return &out, nil
	}
	r.nextID++
	stored := *fact
	stored.ID = r.nextID
	r.facts[key] = &stored
	out := stored
	return &out, nil
}

func (r *memoryAttendanceRepo) FindByNaturalKey(_ context.Context, tenantID, contextID, subjectID, date string) (*domain.AttendanceFact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fact, ok := r.facts[naturalKey(tenantID, contextID, subjectID, date)]; ok {
		out := *fact
		return &out, nil
	}
	return nil, repository.ErrAttendanceNotFound
}

func (r *memoryAttendanceRepo) ListByContext(_ context.Context, tenantID, contextID, date string) ([]domain.AttendanceFact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AttendanceFact
	for _, fact := range r.facts {
		if fact.TenantID == tenantID && fact.ContextID == contextID && (date == "" || fact.AttendanceDate == date) {
			out = append(out, *fact)
		}
	}
	return out, nil
}

func naturalKey(parts ...string) string { return fmt.Sprint(parts) }

// flakyStore injects collisions and failures in front of a real store.
type flakyStore struct {
	repository.SessionStore
	mu          sync.Mutex
	getErr      error
	redeemErr   error
	collisions  int
	createCalls int
}

func (s *flakyStore) CreateIfAbsent(ctx context.Context, session *domain.CredentialSession) error {
	s.mu.Lock()
	s.createCalls++
	if s.collisions > 0 {
		s.collisions--
		s.mu.Unlock()
		return repository.ErrCodeCollision
	}
	s.mu.Unlock()
	return s.SessionStore.CreateIfAbsent(ctx, session)
}

func (s *flakyStore) Get(ctx context.Context, code string) (*domain.CredentialSession, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.SessionStore.Get(ctx, code)
}

func (s *flakyStore) ConditionalRedeem(ctx context.Context, code, subjectID string, now time.Time) (repository.RedeemResult, error) {
	if s.redeemErr != nil {
		return repository.RedeemResult{}, s.redeemErr
	}
	return s.SessionStore.ConditionalRedeem(ctx, code, subjectID, now)
}
