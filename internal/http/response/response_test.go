package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func TestErrorEnvelopeCarriesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/credentials/x", nil)
	req.Header.Set(chimiddleware.RequestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	Error(rr, req, http.StatusNotFound, "NOT_FOUND", "credential not found", nil)

	var env Envelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rr.Code != http.StatusNotFound || env.Success || env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Fatalf("unexpected envelope: %d %+v", rr.Code, env)
	}
	if env.Error.Retryable || env.Meta.RequestID != "req-42" {
		t.Fatalf("unexpected error meta: %+v %+v", env.Error, env.Meta)
	}
}

func TestRetrySetsHeaderAndFlag(t *testing.T) {
	cases := []struct {
		after time.Duration
		want  string
	}{
		{after: 0, want: "1"},
		{after: 1500 * time.Millisecond, want: "2"},
		{after: time.Minute, want: "60"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		Retry(rr, httptest.NewRequest(http.MethodPost, "/", nil), http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "retry", tc.after)
		if got := rr.Header().Get("Retry-After"); got != tc.want {
			t.Fatalf("Retry-After for %v = %q want %q", tc.after, got, tc.want)
		}
		var env Envelope
		if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Error == nil || !env.Error.Retryable || env.Meta.RequestID != "req-unknown" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	}
}
