package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/scan-attendance-service/internal/health"
	"github.com/sandeepkv93/scan-attendance-service/internal/http/handler"
	"github.com/sandeepkv93/scan-attendance-service/internal/http/middleware"
	"github.com/sandeepkv93/scan-attendance-service/internal/http/response"
	"github.com/sandeepkv93/scan-attendance-service/internal/security"
	"github.com/sandeepkv93/scan-attendance-service/internal/service"
)

const (
	RoutePolicyIssue  = "issue"
	RoutePolicyRedeem = "redeem"
)

type Dependencies struct {
	CredentialHandler      *handler.CredentialHandler
	AdminHandler           *handler.AdminHandler
	JWTManager             *security.JWTManager
	CORSOrigins            []string
	APIRateLimitRPM        int
	RedeemRateLimitRPM     int
	GlobalRateLimiter      GlobalRateLimiterFunc
	RouteRateLimitPolicies RouteRateLimitPolicies
	Readiness              *health.ProbeRunner
	EnableOTelHTTP         bool
}

type GlobalRateLimiterFunc func(http.Handler) http.Handler

// RouteRateLimitPolicies overrides the limiter of a named route group.
type RouteRateLimitPolicies map[string]func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(64 << 10))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())
	}

	redeemLimiter := dep.RouteRateLimitPolicies[RoutePolicyRedeem]
	if redeemLimiter == nil {
		redeemLimiter = middleware.NewDistributedRateLimiterWithKey(
			middleware.NewLocalFixedWindowLimiter(),
			dep.RedeemRateLimitRPM,
			time.Minute,
			middleware.FailClosed,
			RoutePolicyRedeem,
			middleware.IdentityOrIPKey,
		).Middleware()
	}
	issueLimiter := dep.RouteRateLimitPolicies[RoutePolicyIssue]
	if issueLimiter == nil {
		issueLimiter = passthrough
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(dep.JWTManager))

		r.Route("/credentials", func(r chi.Router) {
			r.With(issueLimiter).Post("/", dep.CredentialHandler.Issue)
			r.With(redeemLimiter).Post("/redeem", dep.CredentialHandler.Redeem)
			r.Get("/{code}", dep.CredentialHandler.Get)
			r.Post("/{code}/invalidate", dep.CredentialHandler.Invalidate)
			r.With(redeemLimiter).Post("/{code}/record/retry", dep.CredentialHandler.RetryRecord)
		})
		r.Get("/contexts/{context_id}/attendance", dep.CredentialHandler.ListAttendance)

		if dep.AdminHandler != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAnyPermission(service.PermissionAdmin))
				r.Post("/credentials/sweep", dep.AdminHandler.Sweep)
				r.Post("/contexts/{context_id}/issuers", dep.AdminHandler.GrantIssuer)
				r.Get("/contexts/{context_id}/issuers", dep.AdminHandler.ListIssuers)
				r.Delete("/contexts/{context_id}/issuers/{subject_id}", dep.AdminHandler.RevokeIssuer)
			})
		}
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}

func passthrough(next http.Handler) http.Handler { return next }
