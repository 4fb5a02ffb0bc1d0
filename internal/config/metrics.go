package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	errConfigParse   = errors.New("parse config")
	errConfigInvalid = errors.New("validate config")
)

// profileAliases folds APP_ENV spellings onto a bounded label set.
var profileAliases = map[string]string{
	"dev":         "development",
	"development": "development",
	"local":       "development",
	"test":        "test",
	"ci":          "test",
	"stage":       "staging",
	"staging":     "staging",
	"prod":        "production",
	"production":  "production",
}

var (
	configMetricsOnce sync.Once
	configLoads       metric.Int64Counter
)

// recordConfigLoad counts one LoadFile call. cfg may be nil when parsing failed.
func recordConfigLoad(ctx context.Context, cfg *Config, err error) {
	configMetricsOnce.Do(func() {
		counter, cerr := otel.Meter("scan-attendance-service/config").Int64Counter(
			"attendance.config.loads",
			metric.WithDescription("Configuration loads by profile, store backend and outcome"),
		)
		if cerr == nil {
			configLoads = counter
		}
	})
	if configLoads == nil {
		return
	}
	profile, backend := "", ""
	if cfg != nil {
		profile, backend = cfg.AppEnv, cfg.StoreBackend
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	configLoads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", normalizeConfigProfile(profile)),
		attribute.String("store_backend", normalizeStoreBackend(backend)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", classifyConfigLoadError(err)),
	))
}

func normalizeConfigProfile(profile string) string {
	v := strings.TrimSpace(strings.ToLower(profile))
	if v == "" {
		return "unknown"
	}
	if canonical, ok := profileAliases[v]; ok {
		return canonical
	}
	return "other"
}

func normalizeStoreBackend(backend string) string {
	switch backend {
	case StoreBackendRedis, StoreBackendPostgres, StoreBackendSQLite, StoreBackendMemory:
		return backend
	case "":
		return "unknown"
	default:
		return "invalid"
	}
}

func classifyConfigLoadError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, errConfigInvalid):
		return "validation"
	case errors.Is(err, errConfigParse):
		return "parse"
	default:
		return "load"
	}
}
