package middleware

import (
	"net/http"

	"github.com/sandeepkv93/scan-attendance-service/internal/http/response"
)

// RequireAnyPermission admits callers holding at least one of permissions.
func RequireAnyPermission(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
				return
			}
			for _, p := range permissions {
				if id.HasPermission(p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient permission", map[string]any{"required_any": permissions})
		})
	}
}
