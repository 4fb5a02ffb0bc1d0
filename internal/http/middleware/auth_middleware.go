package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sandeepkv93/scan-attendance-service/internal/http/response"
	"github.com/sandeepkv93/scan-attendance-service/internal/observability"
	"github.com/sandeepkv93/scan-attendance-service/internal/security"
)

type contextKey string

const (
	IdentityContextKey contextKey = "identity"
)

// AuthMiddleware accepts only bearer tokens; the verified subject and tenant
// become the request identity.
func AuthMiddleware(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ""
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				raw = strings.TrimSpace(auth[7:])
			}
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", "none")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid", "bearer")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid", "bearer")
			ctx := WithIdentity(r.Context(), claims.Identity())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func WithIdentity(ctx context.Context, id security.Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, id)
}

func IdentityFromContext(ctx context.Context) (security.Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(security.Identity)
	return id, ok
}
