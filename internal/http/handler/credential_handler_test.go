package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sandeepkv93/scan-attendance-service/internal/database"
	"github.com/sandeepkv93/scan-attendance-service/internal/http/middleware"
	"github.com/sandeepkv93/scan-attendance-service/internal/payload"
	"github.com/sandeepkv93/scan-attendance-service/internal/repository"
	"github.com/sandeepkv93/scan-attendance-service/internal/security"
	"github.com/sandeepkv93/scan-attendance-service/internal/service"
)

var (
	issuerID   = security.Identity{SubjectID: "teacher-1", TenantID: "tenant-a", Permissions: []string{service.PermissionIssue}}
	studentA   = security.Identity{SubjectID: "student-1", TenantID: "tenant-a"}
	studentB   = security.Identity{SubjectID: "student-2", TenantID: "tenant-a"}
	foreignSub = security.Identity{SubjectID: "student-9", TenantID: "tenant-b"}
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := repository.NewInMemorySessionStore()
	attendance := repository.NewAttendanceRepository(db)
	unknown := service.NewInMemoryUnknownCodeCache()
	authz := service.NewPermissionAuthorizer()
	issuer := service.NewSessionIssuer(store, authz, unknown, service.IssuerConfig{
		MaxValidity:         4 * time.Hour,
		CodeBytes:           24,
		MaxAttempts:         3,
		DefaultRadiusMeters: 100,
		MaxRadiusMeters:     1000,
	})
	svc := service.NewCredentialService(
		issuer,
		service.NewScanValidator(store, unknown, time.Minute),
		service.NewAttendanceRecorder(attendance, time.UTC),
		store,
		attendance,
		authz,
		payload.NewCodec(payload.Version2),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	h := NewCredentialHandler(svc, 30*time.Minute)

	r := chi.NewRouter()
	r.Post("/credentials", h.Issue)
	r.Post("/credentials/redeem", h.Redeem)
	r.Get("/credentials/{code}", h.Get)
	r.Post("/credentials/{code}/invalidate", h.Invalidate)
	r.Post("/credentials/{code}/record/retry", h.RetryRecord)
	r.Get("/contexts/{context_id}/attendance", h.ListAttendance)
	return r
}

func do(t *testing.T, h http.Handler, id *security.Identity, method, target, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if id != nil {
		req = req.WithContext(middleware.WithIdentity(req.Context(), *id))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%s", err, rr.Body.String())
	}
	return rr.Code, env
}

func issue(t *testing.T, h http.Handler, body string) service.IssueResult {
	t.Helper()
	status, env := do(t, h, &issuerID, http.MethodPost, "/credentials", body)
	if status != http.StatusCreated {
		t.Fatalf("issue: expected 201, got %d %+v", status, env.Error)
	}
	var res service.IssueResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode issue result: %v", err)
	}
	return res
}

func redeemBody(p string) string {
	b, _ := json.Marshal(map[string]string{"payload": p})
	return string(b)
}

func TestRedeemStatusMapping(t *testing.T) {
	h := newTestRouter(t)
	res := issue(t, h, `{"context_id":"class-7","validity_seconds":600,"max_redemptions":1}`)

	status, env := do(t, h, &studentA, http.MethodPost, "/credentials/redeem", redeemBody(res.Payload))
	if status != http.StatusCreated || !env.Success {
		t.Fatalf("first redeem: expected 201, got %d", status)
	}
	var accepted service.RedeemResult
	if err := json.Unmarshal(env.Data, &accepted); err != nil {
		t.Fatalf("decode redeem: %v", err)
	}
	if accepted.Outcome != "ACCEPTED" || accepted.Fact == nil || accepted.Fact.ContextID != "class-7" {
		t.Fatalf("unexpected accept payload %+v", accepted)
	}

	if status, _ := do(t, h, &studentA, http.MethodPost, "/credentials/redeem", redeemBody(res.Payload)); status != http.StatusOK {
		t.Fatalf("repeat redeem: expected 200, got %d", status)
	}

	cases := []struct {
		name   string
		id     security.Identity
		body   string
		status int
		code   string
	}{
		{"ceiling", studentB, redeemBody(res.Payload), http.StatusConflict, "REDEMPTION_LIMIT"},
		{"tenant mismatch", foreignSub, redeemBody(res.Payload), http.StatusForbidden, "TENANT_MISMATCH"},
		{"garbage", studentB, redeemBody("not-a-credential"), http.StatusBadRequest, "INVALID_PAYLOAD"},
		{"unknown", studentB, redeemBody(`{"v":1,"code":"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"}`), http.StatusNotFound, "UNKNOWN_CODE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, env := do(t, h, &tc.id, http.MethodPost, "/credentials/redeem", tc.body)
			if status != tc.status || env.Error == nil || env.Error.Code != tc.code {
				t.Fatalf("expected %d %s, got %d %+v", tc.status, tc.code, status, env.Error)
			}
		})
	}
}

func TestInvalidateThenRedeemIsGone(t *testing.T) {
	h := newTestRouter(t)
	res := issue(t, h, `{"context_id":"class-7"}`)

	if status, _ := do(t, h, &studentA, http.MethodPost, "/credentials/"+res.Code+"/invalidate", ""); status != http.StatusForbidden {
		t.Fatalf("student invalidate: expected 403, got %d", status)
	}
	if status, _ := do(t, h, &issuerID, http.MethodPost, "/credentials/"+res.Code+"/invalidate", ""); status != http.StatusOK {
		t.Fatalf("invalidate: expected 200, got %d", status)
	}
	if status, _ := do(t, h, &issuerID, http.MethodPost, "/credentials/"+res.Code+"/invalidate", ""); status != http.StatusOK {
		t.Fatalf("repeat invalidate: expected 200, got %d", status)
	}
	status, env := do(t, h, &studentA, http.MethodPost, "/credentials/redeem", redeemBody(res.Payload))
	if status != http.StatusGone || env.Error.Code != "SESSION_INACTIVE" {
		t.Fatalf("expected 410 SESSION_INACTIVE, got %d %+v", status, env.Error)
	}
	if status, _ := do(t, h, &issuerID, http.MethodPost, "/credentials/unknown-code/invalidate", ""); status != http.StatusNotFound {
		t.Fatalf("unknown invalidate: expected 404, got %d", status)
	}
}

func TestIssueValidation(t *testing.T) {
	h := newTestRouter(t)
	cases := []struct {
		name   string
		id     security.Identity
		body   string
		status int
	}{
		{"malformed body", issuerID, `{`, http.StatusBadRequest},
		{"validity too long", issuerID, `{"context_id":"c","validity_seconds":86400}`, http.StatusBadRequest},
		{"negative validity", issuerID, `{"context_id":"c","validity_seconds":-5}`, http.StatusBadRequest},
		{"not an issuer", studentA, `{"context_id":"c"}`, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if status, _ := do(t, h, &tc.id, http.MethodPost, "/credentials", tc.body); status != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, status)
			}
		})
	}
	if status, _ := do(t, h, nil, http.MethodPost, "/credentials", `{"context_id":"c"}`); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", status)
	}
}

func TestSessionViewHidesRedeemersFromOthers(t *testing.T) {
	h := newTestRouter(t)
	res := issue(t, h, `{"context_id":"class-7"}`)
	do(t, h, &studentA, http.MethodPost, "/credentials/redeem", redeemBody(res.Payload))

	_, env := do(t, h, &issuerID, http.MethodGet, "/credentials/"+res.Code, "")
	if !strings.Contains(string(env.Data), `"redeemed_by":["student-1"]`) {
		t.Fatalf("expected redeemers for issuer, got %s", env.Data)
	}
	_, env = do(t, h, &studentB, http.MethodGet, "/credentials/"+res.Code, "")
	if strings.Contains(string(env.Data), "redeemed_by") {
		t.Fatalf("expected no redeemers for student, got %s", env.Data)
	}
	if status, _ := do(t, h, &foreignSub, http.MethodGet, "/credentials/"+res.Code, ""); status != http.StatusNotFound {
		t.Fatalf("expected 404 across tenants, got %d", status)
	}
}

func TestRetryRecordAndListAttendance(t *testing.T) {
	h := newTestRouter(t)
	res := issue(t, h, `{"context_id":"class-7"}`)

	if status, _ := do(t, h, &studentA, http.MethodPost, "/credentials/"+res.Code+"/record/retry", ""); status != http.StatusConflict {
		t.Fatalf("retry before redeem: expected 409, got %d", status)
	}
	do(t, h, &studentA, http.MethodPost, "/credentials/redeem", redeemBody(res.Payload))
	if status, _ := do(t, h, &studentA, http.MethodPost, "/credentials/"+res.Code+"/record/retry", ""); status != http.StatusOK {
		t.Fatalf("retry after redeem: expected 200, got %d", status)
	}

	status, env := do(t, h, &issuerID, http.MethodGet, "/contexts/class-7/attendance", "")
	if status != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", status)
	}
	var list struct {
		Items []struct {
			SubjectID string `json:"subject_id"`
		} `json:"items"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].SubjectID != "student-1" {
		t.Fatalf("unexpected attendance list %+v", list.Items)
	}
	if status, _ := do(t, h, &studentA, http.MethodGet, "/contexts/class-7/attendance", ""); status != http.StatusForbidden {
		t.Fatalf("student list: expected 403, got %d", status)
	}
	if status, _ := do(t, h, &issuerID, http.MethodGet, "/contexts/class-7/attendance?date=yesterday", ""); status != http.StatusBadRequest {
		t.Fatalf("bad date: expected 400, got %d", status)
	}
}
