//go:build wireinject

package di

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/sandeepkv93/scan-attendance-service/internal/app"
	"github.com/sandeepkv93/scan-attendance-service/internal/config"
	"github.com/sandeepkv93/scan-attendance-service/internal/repository"
	"github.com/sandeepkv93/scan-attendance-service/internal/service"
)

var storageSet = wire.NewSet(
	provideDB,
	provideRedis,
	provideSessionStore,
	repository.NewAttendanceRepository,
	repository.NewIssuerGrantRepository,
)

var serviceSet = wire.NewSet(
	provideGrantCache,
	provideGrantAuthorizer,
	wire.Bind(new(service.IssuerAuthorizer), new(*service.GrantAuthorizer)),
	provideUnknownCodeCache,
	provideIssuer,
	provideValidator,
	provideRecorder,
	provideCodec,
	provideSweeper,
	service.NewCredentialService,
)

var httpSet = wire.NewSet(
	provideJWTManager,
	provideCredentialHandler,
	provideAdminHandler,
	provideReadiness,
	provideRouter,
	provideServer,
)

func InitializeApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*app.App, error) {
	wire.Build(provideRuntime, storageSet, serviceSet, httpSet, provideApp)
	return nil, nil
}

func InitializeSweepJob(cfg *config.Config, logger *slog.Logger) (*SweepJob, error) {
	wire.Build(provideDB, provideRedis, provideSessionStore, provideSweeper, provideSweepJob)
	return nil, nil
}
