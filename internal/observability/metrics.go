package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/scan-attendance-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "scan-attendance-service"

type AppMetrics struct {
	issueCounter          metric.Int64Counter
	redeemCounter         metric.Int64Counter
	redeemDuration        metric.Float64Histogram
	invalidateCounter     metric.Int64Counter
	recordCounter         metric.Int64Counter
	repositoryCounter     metric.Int64Counter
	negativeLookupCounter metric.Int64Counter
	sweepCounter          metric.Int64Counter
	tokenCounter          metric.Int64Counter
	rateLimitCounter      metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := serviceResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	m, err := NewAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	SetAppMetrics(m)

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

// NewAppMetrics registers every instrument on meter. Tests pass a meter backed by
// a manual reader.
func NewAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	m := &AppMetrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.issueCounter, "credential.issue.events"},
		{&m.redeemCounter, "credential.redeem.outcomes"},
		{&m.invalidateCounter, "credential.invalidate.events"},
		{&m.recordCounter, "attendance.record.events"},
		{&m.repositoryCounter, "repository.operations"},
		{&m.negativeLookupCounter, "credential.negative_lookup.events"},
		{&m.sweepCounter, "credential.sweep.sessions"},
		{&m.tokenCounter, "auth.access_token.validations"},
		{&m.rateLimitCounter, "http.rate_limit.decisions"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	hist, err := meter.Float64Histogram("credential.redeem.duration", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create histogram credential.redeem.duration: %w", err)
	}
	m.redeemDuration = hist
	return m, nil
}

func SetAppMetrics(m *AppMetrics) {
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
}

func loadMetrics() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordCredentialIssue(ctx context.Context, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.issueCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordRedeemOutcome(ctx context.Context, outcome, reason string, elapsed time.Duration) {
	m := loadMetrics()
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	)
	m.redeemCounter.Add(ctx, 1, attrs)
	m.redeemDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)
}

func RecordCredentialInvalidate(ctx context.Context, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.invalidateCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordAttendanceRecord(ctx context.Context, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.recordCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.repositoryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordNegativeLookupEvent(ctx context.Context, event string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.negativeLookupCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func RecordSweep(ctx context.Context, count int64, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.sweepCounter.Add(ctx, count, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.tokenCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, decision, mode string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
		attribute.String("mode", mode),
	))
}

func serviceResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
}
