package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"

	"github.com/sandeepkv93/scan-attendance-service/internal/app"
	"github.com/sandeepkv93/scan-attendance-service/internal/config"
	"github.com/sandeepkv93/scan-attendance-service/internal/database"
	"github.com/sandeepkv93/scan-attendance-service/internal/health"
	"github.com/sandeepkv93/scan-attendance-service/internal/http/handler"
	"github.com/sandeepkv93/scan-attendance-service/internal/http/middleware"
	"github.com/sandeepkv93/scan-attendance-service/internal/http/router"
	"github.com/sandeepkv93/scan-attendance-service/internal/observability"
	"github.com/sandeepkv93/scan-attendance-service/internal/payload"
	"github.com/sandeepkv93/scan-attendance-service/internal/repository"
	"github.com/sandeepkv93/scan-attendance-service/internal/security"
	"github.com/sandeepkv93/scan-attendance-service/internal/service"
)

func provideRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, logger, lp)
}

func provideDB(cfg *config.Config, logger *slog.Logger) (*gorm.DB, error) {
	db, err := database.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return db, nil
}

// provideRedis returns nil when neither the store nor the limiter uses Redis.
func provideRedis(cfg *config.Config) redis.UniversalClient {
	if cfg.StoreBackend != config.StoreBackendRedis && cfg.RateLimitBackend != "redis" {
		return nil
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{cfg.RedisAddr},
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		ReadTimeout:  cfg.StoreTimeout,
		WriteTimeout: cfg.StoreTimeout,
	})
}

func provideSessionStore(cfg *config.Config, db *gorm.DB, rdb redis.UniversalClient) repository.SessionStore {
	switch cfg.StoreBackend {
	case config.StoreBackendRedis:
		return repository.NewRedisSessionStore(rdb, cfg.RedisPrefix, cfg.SessionRetention)
	case config.StoreBackendMemory:
		return repository.NewInMemorySessionStore()
	default:
		return repository.NewGormSessionStore(db)
	}
}

func provideUnknownCodeCache(cfg *config.Config, rdb redis.UniversalClient) service.UnknownCodeCache {
	if rdb != nil {
		return service.NewRedisUnknownCodeCache(rdb, cfg.RedisPrefix+":unknown")
	}
	return service.NewInMemoryUnknownCodeCache()
}

func provideGrantCache(cfg *config.Config, rdb redis.UniversalClient) service.GrantCacheStore {
	if rdb != nil {
		return service.NewRedisGrantCacheStore(rdb, cfg.RedisPrefix+":grant")
	}
	return service.NewInMemoryGrantCacheStore()
}

func provideGrantAuthorizer(cfg *config.Config, repo repository.IssuerGrantRepository, cache service.GrantCacheStore, logger *slog.Logger) *service.GrantAuthorizer {
	return service.NewGrantAuthorizer(repo, cache, cfg.IssuerGrantCacheTTL, logger)
}

func provideIssuer(cfg *config.Config, store repository.SessionStore, authz service.IssuerAuthorizer, unknown service.UnknownCodeCache) *service.SessionIssuer {
	return service.NewSessionIssuer(store, authz, unknown, service.IssuerConfig{
		MaxValidity:         cfg.CredentialMaxValidity,
		CodeBytes:           cfg.CredentialCodeBytes,
		MaxAttempts:         cfg.CredentialIssueMaxAttempt,
		DefaultRadiusMeters: cfg.ProximityDefaultRadiusM,
		MaxRadiusMeters:     cfg.ProximityMaxRadiusM,
	})
}

func provideValidator(cfg *config.Config, store repository.SessionStore, unknown service.UnknownCodeCache) *service.ScanValidator {
	return service.NewScanValidator(store, unknown, cfg.NegativeLookupTTL)
}

func provideRecorder(cfg *config.Config, repo repository.AttendanceRepository) *service.AttendanceRecorder {
	return service.NewAttendanceRecorder(repo, cfg.AttendanceLocation())
}

func provideCodec(cfg *config.Config) *payload.Codec {
	return payload.NewCodec(cfg.PayloadVersion)
}

func provideSweeper(cfg *config.Config, store repository.SessionStore, logger *slog.Logger) *service.Sweeper {
	return service.NewSweeper(store, cfg.SessionRetention, cfg.SweepInterval, logger)
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
}

func provideCredentialHandler(cfg *config.Config, svc *service.CredentialService) *handler.CredentialHandler {
	return handler.NewCredentialHandler(svc, cfg.CredentialDefaultValidity)
}

func provideAdminHandler(sweeper *service.Sweeper, grants *service.GrantAuthorizer) *handler.AdminHandler {
	return handler.NewAdminHandler(sweeper, grants)
}

func provideReadiness(db *gorm.DB, rdb redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if rdb != nil {
		checkers = append(checkers, health.NewRedisChecker(rdb))
	}
	return health.NewProbeRunner(2*time.Second, 2*time.Second, checkers...)
}

func provideRouter(
	cfg *config.Config,
	credentials *handler.CredentialHandler,
	admin *handler.AdminHandler,
	jwtMgr *security.JWTManager,
	readiness *health.ProbeRunner,
	rdb redis.UniversalClient,
) http.Handler {
	dep := router.Dependencies{
		CredentialHandler:  credentials,
		AdminHandler:       admin,
		JWTManager:         jwtMgr,
		CORSOrigins:        cfg.CORSOrigins(),
		APIRateLimitRPM:    cfg.APIRateLimitPerMin,
		RedeemRateLimitRPM: cfg.RedeemRateLimitPerMin,
		Readiness:          readiness,
		EnableOTelHTTP:     cfg.EnableOTelHTTP,
	}
	if cfg.RateLimitBackend == "redis" && rdb != nil {
		mode := middleware.FailClosed
		if cfg.RateLimitFailOpen {
			mode = middleware.FailOpen
		}
		limiter := middleware.NewRedisFixedWindowLimiter(rdb, cfg.RedisPrefix+":rl")
		dep.GlobalRateLimiter = middleware.NewDistributedRateLimiterWithKey(limiter, cfg.APIRateLimitPerMin, time.Minute, mode, "api", nil).Middleware()
		dep.RouteRateLimitPolicies = router.RouteRateLimitPolicies{
			router.RoutePolicyRedeem: middleware.NewDistributedRateLimiterWithKey(
				limiter, cfg.RedeemRateLimitPerMin, time.Minute, mode, router.RoutePolicyRedeem, middleware.IdentityOrIPKey,
			).Middleware(),
		}
	}
	return router.NewRouter(dep)
}

func provideServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	readiness *health.ProbeRunner,
	sweeper *service.Sweeper,
	db *gorm.DB,
	rdb redis.UniversalClient,
) *app.App {
	closers := []func() error{func() error { return database.Close(db) }}
	if rdb != nil {
		closers = append(closers, func() error {
			if err := rdb.Close(); err != nil {
				return fmt.Errorf("close redis: %w", err)
			}
			return nil
		})
	}
	return app.New(cfg, logger, server, runtime, readiness, []app.BackgroundTask{sweeper}, closers...)
}

// SweepJob owns the connections opened for a one-shot sweep.
type SweepJob struct {
	Sweeper *service.Sweeper
	db      *gorm.DB
	rdb     redis.UniversalClient
}

func provideSweepJob(sweeper *service.Sweeper, db *gorm.DB, rdb redis.UniversalClient) *SweepJob {
	return &SweepJob{Sweeper: sweeper, db: db, rdb: rdb}
}

func (j *SweepJob) Close() error {
	err := database.Close(j.db)
	if j.rdb != nil {
		if cerr := j.rdb.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
