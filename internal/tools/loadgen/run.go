package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/scan-attendance-service/internal/security"
)

// Config drives one load run. Tokens are minted locally with the service's
// JWT settings so every simulated subject is a distinct identity.
type Config struct {
	BaseURL        string
	Profile        string
	Duration       time.Duration
	RPS            int
	Concurrency    int
	Seed           uint64
	Subjects       int
	TenantID       string
	ContextID      string
	MaxRedemptions int
	JWTIssuer      string
	JWTAudience    string
	JWTSecret      string
}

type Result struct {
	TotalRequests int            `json:"total_requests"`
	Failures      int            `json:"failures"`
	StatusClasses map[string]int `json:"status_classes"`
	Outcomes      map[string]int `json:"outcomes"`
}

type runner struct {
	cfg    Config
	client *http.Client
	jwt    *security.JWTManager

	mu      sync.Mutex
	res     Result
	payload string
}

// MaxRPS bounds the ticker rate; a single generator cannot usefully exceed it.
const MaxRPS = 10000

func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg = normalizeConfig(cfg)
	if cfg.JWTSecret == "" {
		return Result{}, errors.New("loadgen: JWT secret is required")
	}
	r := &runner{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		jwt:    security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret),
		res:    Result{StatusClasses: map[string]int{}, Outcomes: map[string]int{}},
	}

	payload, err := r.issue(ctx)
	if err != nil {
		return r.result(), err
	}
	r.setPayload(payload)

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()
	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
		defer ticker.Stop()
		rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				select {
				case jobs <- rng.IntN(cfg.Subjects):
				case <-gctx.Done():
					return nil
				}
			}
		}
	})
	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for subject := range jobs {
				if cfg.Profile == "mixed" && subject%10 == 0 {
					if p, err := r.issue(gctx); err == nil {
						r.setPayload(p)
					}
					continue
				}
				r.redeem(gctx, subject, r.currentPayload())
			}
			return nil
		})
	}
	_ = g.Wait()
	return r.result(), nil
}

func (r *runner) issue(ctx context.Context) (string, error) {
	body := map[string]any{"context_id": r.cfg.ContextID}
	if r.cfg.MaxRedemptions > 0 {
		body["max_redemptions"] = r.cfg.MaxRedemptions
	}
	status, data, err := r.post(ctx, "/api/v1/credentials/", "loadgen-issuer", []string{"attendance:issue"}, body)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("issue credential: unexpected status %d", status)
	}
	var out struct {
		Data struct {
			Payload string `json:"payload"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode issue response: %w", err)
	}
	return out.Data.Payload, nil
}

func (r *runner) redeem(ctx context.Context, subject int, payload string) {
	status, data, err := r.post(ctx, "/api/v1/credentials/redeem", fmt.Sprintf("loadgen-subject-%d", subject), nil, map[string]any{"payload": payload})
	if err != nil {
		if ctx.Err() == nil {
			r.record(0, "transport_error")
		}
		return
	}
	var out struct {
		Data struct {
			Outcome string `json:"outcome"`
		} `json:"data"`
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &out)
	outcome := out.Data.Outcome
	if outcome == "" {
		outcome = out.Error.Code
	}
	r.record(status, outcome)
}

func (r *runner) post(ctx context.Context, path, subject string, perms []string, body any) (int, []byte, error) {
	token, err := r.jwt.SignAccessToken(security.Identity{SubjectID: subject, TenantID: r.cfg.TenantID, Permissions: perms}, time.Hour)
	if err != nil {
		return 0, nil, err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(r.cfg.BaseURL, "/")+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

func (r *runner) record(status int, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.res.TotalRequests++
	class := classifyStatusClass(status)
	if status == 0 || class == "5xx" {
		r.res.Failures++
	}
	r.res.StatusClasses[class]++
	if outcome != "" {
		r.res.Outcomes[outcome]++
	}
}

func (r *runner) setPayload(p string) {
	r.mu.Lock()
	r.payload = p
	r.mu.Unlock()
}

func (r *runner) currentPayload() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payload
}

func (r *runner) result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Result{
		TotalRequests: r.res.TotalRequests,
		Failures:      r.res.Failures,
		StatusClasses: make(map[string]int, len(r.res.StatusClasses)),
		Outcomes:      make(map[string]int, len(r.res.Outcomes)),
	}
	for k, v := range r.res.StatusClasses {
		out.StatusClasses[k] = v
	}
	for k, v := range r.res.Outcomes {
		out.Outcomes[k] = v
	}
	return out
}

func normalizeConfig(cfg Config) Config {
	cfg.Profile = normalizeProfile(cfg.Profile)
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	cfg.RPS = min(cfg.RPS, MaxRPS)
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Subjects <= 0 {
		cfg.Subjects = 50
	}
	if cfg.TenantID == "" {
		cfg.TenantID = "loadgen"
	}
	if cfg.ContextID == "" {
		cfg.ContextID = "loadgen-context"
	}
	return cfg
}

func normalizeProfile(p string) string {
	switch p = strings.ToLower(strings.TrimSpace(p)); p {
	case "redeem", "mixed":
		return p
	default:
		return "mixed"
	}
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}
