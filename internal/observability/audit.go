package observability

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Audit logs a structured audit event. The matched route pattern is logged instead
// of the raw path so credential codes in URLs never reach the logs.
func Audit(r *http.Request, event string, attrs ...any) {
	path := r.URL.Path
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			path = pattern
		}
	}
	base := []any{
		"event", event,
		"method", r.Method,
		"path", path,
		"request_id", r.Header.Get("X-Request-Id"),
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}
