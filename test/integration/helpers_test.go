package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sandeepkv93/scan-attendance-service/internal/database"
	"github.com/sandeepkv93/scan-attendance-service/internal/http/handler"
	"github.com/sandeepkv93/scan-attendance-service/internal/http/router"
	"github.com/sandeepkv93/scan-attendance-service/internal/payload"
	"github.com/sandeepkv93/scan-attendance-service/internal/repository"
	"github.com/sandeepkv93/scan-attendance-service/internal/security"
	"github.com/sandeepkv93/scan-attendance-service/internal/service"
)

const testJWTSecret = "abcdefghijklmnopqrstuvwxyz123456"

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	baseURL string
	client  *http.Client
	jwt     *security.JWTManager
}

// newCredentialTestServer runs the full router over store. A nil store uses
// the in-memory backend.
func newCredentialTestServer(t *testing.T, store repository.SessionStore) *testServer {
	t.Helper()
	if store == nil {
		store = repository.NewInMemorySessionStore()
	}
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

	attendance := repository.NewAttendanceRepository(db)
	unknown := service.NewInMemoryUnknownCodeCache()
	authz := service.NewGrantAuthorizer(repository.NewIssuerGrantRepository(db), service.NewInMemoryGrantCacheStore(), time.Minute, nil)
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
	jwtMgr := security.NewJWTManager("iss", "aud", testJWTSecret)
	h := router.NewRouter(router.Dependencies{
		CredentialHandler:  handler.NewCredentialHandler(svc, 30*time.Minute),
		AdminHandler:       handler.NewAdminHandler(service.NewSweeper(store, time.Hour, 0, nil), authz),
		JWTManager:         jwtMgr,
		APIRateLimitRPM:    100000,
		RedeemRateLimitRPM: 100000,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		_ = sqlDB.Close()
	})
	return &testServer{baseURL: srv.URL, client: srv.Client(), jwt: jwtMgr}
}

func (s *testServer) token(t *testing.T, subject, tenant string, perms ...string) string {
	t.Helper()
	tok, err := s.jwt.SignAccessToken(security.Identity{SubjectID: subject, TenantID: tenant, Permissions: perms}, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, apiEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.baseURL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp, env
}

func captureAuditEvents(t *testing.T, fn func()) []map[string]any {
	t.Helper()
	var logBuf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	defer slog.SetDefault(previous)

	fn()
	return extractAuditEvents(logBuf.String())
}

func extractAuditEvents(logs string) []map[string]any {
	events := make([]map[string]any, 0)
	for _, line := range strings.Split(logs, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if msg, _ := event["msg"].(string); msg == "audit" {
			events = append(events, event)
		}
	}
	return events
}

func requireAuditEvent(t *testing.T, events []map[string]any, eventName, key, value string) map[string]any {
	t.Helper()
	for _, event := range events {
		gotName, _ := event["event"].(string)
		gotValue, _ := event[key].(string)
		if gotName == eventName && gotValue == value {
			return event
		}
	}
	t.Fatalf("expected audit event=%q %s=%q, got events=%#v", eventName, key, value, events)
	return nil
}

func startRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container integration test in short mode")
	}
	if !dockerAvailable() {
		t.Skip("docker is not available; skipping redis container integration test")
	}

	hostPort := reserveLocalPort(t)
	containerName := "attendance-redis-it-" + strconv.FormatInt(time.Now().UnixNano(), 10) + "-" + strconv.Itoa(rand.Intn(1000))

	runCmd := exec.Command("docker", "run", "-d", "--rm",
		"--name", containerName,
		"-p", fmt.Sprintf("127.0.0.1:%d:6379", hostPort),
		"redis:7-alpine",
		"redis-server", "--save", "", "--appendonly", "no",
	)
	out, err := runCmd.CombinedOutput()
	if err != nil {
		t.Skipf("unable to start redis container: %v output=%s", err, strings.TrimSpace(string(out)))
	}

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("127.0.0.1:%d", hostPort)})
	ctx := context.Background()
	deadline := time.Now().Add(20 * time.Second)
	for {
		if time.Now().After(deadline) {
			_ = client.Close()
			_ = exec.Command("docker", "rm", "-f", containerName).Run()
			t.Fatalf("timed out waiting for redis container %s to become ready", containerName)
		}
		if err := client.Ping(ctx).Err(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	cleanup := func() {
		_ = client.Close()
		_ = exec.Command("docker", "rm", "-f", containerName).Run()
	}
	return client, cleanup
}

func dockerAvailable() bool {
	cmd := exec.Command("docker", "version", "--format", "{{.Server.Version}}")
	return cmd.Run() == nil
}

func reserveLocalPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve local port: %v", err)
	}
	defer func() { _ = l.Close() }()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected addr type %T", l.Addr())
	}
	return addr.Port
}
