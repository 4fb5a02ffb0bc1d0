package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
	StoreBackendSQLite   = "sqlite"
	StoreBackendMemory   = "memory"
)

type Config struct {
	AppEnv   string `mapstructure:"APP_ENV"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	StoreBackend  string        `mapstructure:"STORE_BACKEND"`
	DatabaseURL   string        `mapstructure:"DATABASE_URL"`
	SQLitePath    string        `mapstructure:"SQLITE_PATH"`
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	RedisPrefix   string        `mapstructure:"REDIS_PREFIX"`
	StoreTimeout  time.Duration `mapstructure:"STORE_TIMEOUT"`

	CredentialMaxValidity     time.Duration `mapstructure:"CREDENTIAL_MAX_VALIDITY"`
	CredentialDefaultValidity time.Duration `mapstructure:"CREDENTIAL_DEFAULT_VALIDITY"`
	CredentialCodeBytes       int           `mapstructure:"CREDENTIAL_CODE_BYTES"`
	CredentialIssueMaxAttempt int           `mapstructure:"CREDENTIAL_ISSUE_MAX_ATTEMPTS"`
	PayloadVersion            int           `mapstructure:"PAYLOAD_VERSION"`
	ProximityDefaultRadiusM   float64       `mapstructure:"PROXIMITY_DEFAULT_RADIUS_M"`
	ProximityMaxRadiusM       float64       `mapstructure:"PROXIMITY_MAX_RADIUS_M"`
	SessionRetention          time.Duration `mapstructure:"SESSION_RETENTION"`
	SweepInterval             time.Duration `mapstructure:"SWEEP_INTERVAL"`
	NegativeLookupTTL         time.Duration `mapstructure:"NEGATIVE_LOOKUP_TTL"`
	IssuerGrantCacheTTL       time.Duration `mapstructure:"ISSUER_GRANT_CACHE_TTL"`
	AttendanceTimezone        string        `mapstructure:"ATTENDANCE_TIMEZONE"`

	RedeemRateLimitPerMin int    `mapstructure:"REDEEM_RATE_LIMIT_PER_MIN"`
	APIRateLimitPerMin    int    `mapstructure:"API_RATE_LIMIT_PER_MIN"`
	RateLimitBackend      string `mapstructure:"RATE_LIMIT_BACKEND"`
	RateLimitFailOpen     bool   `mapstructure:"RATE_LIMIT_FAIL_OPEN"`
	CORSAllowedOrigins    string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	JWTIssuer       string `mapstructure:"JWT_ISSUER"`
	JWTAudience     string `mapstructure:"JWT_AUDIENCE"`
	JWTAccessSecret string `mapstructure:"JWT_ACCESS_SECRET"`

	OTELServiceName           string        `mapstructure:"OTEL_SERVICE_NAME"`
	OTELEnvironment           string        `mapstructure:"OTEL_ENVIRONMENT"`
	OTELExporterOTLPEndpoint  string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELExporterOTLPInsecure  bool          `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELMetricsEnabled        bool          `mapstructure:"OTEL_METRICS_ENABLED"`
	OTELTracingEnabled        bool          `mapstructure:"OTEL_TRACING_ENABLED"`
	OTELLogsEnabled           bool          `mapstructure:"OTEL_LOGS_ENABLED"`
	OTELMetricsExportInterval time.Duration `mapstructure:"OTEL_METRICS_EXPORT_INTERVAL"`
	OTELTraceSamplingRatio    float64       `mapstructure:"OTEL_TRACE_SAMPLING_RATIO"`
	EnableOTelHTTP            bool          `mapstructure:"OTEL_HTTP_ENABLED"`

	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

// Load reads an optional env file, then the process environment. Environment
// variables win over the file.
func Load() (*Config, error) {
	return LoadFile(".env")
}

func LoadFile(envFile string) (*Config, error) {
	cfg, err := load(envFile)
	recordConfigLoad(context.Background(), cfg, err)
	return cfg, err
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) && !isMissingFile(err) {
				return nil, fmt.Errorf("%w %s: %w", errConfigParse, envFile, err)
			}
		}
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w environment: %w", errConfigParse, err)
	}
	if err := cfg.Validate(); err != nil {
		return &cfg, fmt.Errorf("%w: %w", errConfigInvalid, err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := map[string]any{
		"APP_ENV":                       "development",
		"HTTP_ADDR":                     ":8080",
		"LOG_LEVEL":                     "info",
		"STORE_BACKEND":                 StoreBackendSQLite,
		"DATABASE_URL":                  "",
		"SQLITE_PATH":                   "attendance.db",
		"REDIS_ADDR":                    "localhost:6379",
		"REDIS_PASSWORD":                "",
		"REDIS_DB":                      0,
		"REDIS_PREFIX":                  "attendance",
		"STORE_TIMEOUT":                 "3s",
		"CREDENTIAL_MAX_VALIDITY":       "4h",
		"CREDENTIAL_DEFAULT_VALIDITY":   "30m",
		"CREDENTIAL_CODE_BYTES":         24,
		"CREDENTIAL_ISSUE_MAX_ATTEMPTS": 5,
		"PAYLOAD_VERSION":               2,
		"PROXIMITY_DEFAULT_RADIUS_M":    100.0,
		"PROXIMITY_MAX_RADIUS_M":        1000.0,
		"SESSION_RETENTION":             "24h",
		"SWEEP_INTERVAL":                "1m",
		"NEGATIVE_LOOKUP_TTL":           "30s",
		"ISSUER_GRANT_CACHE_TTL":        "1m",
		"ATTENDANCE_TIMEZONE":           "UTC",
		"REDEEM_RATE_LIMIT_PER_MIN":     30,
		"API_RATE_LIMIT_PER_MIN":        600,
		"RATE_LIMIT_BACKEND":            "local",
		"RATE_LIMIT_FAIL_OPEN":          false,
		"CORS_ALLOWED_ORIGINS":          "",
		"JWT_ISSUER":                    "scan-attendance-service",
		"JWT_AUDIENCE":                  "scan-attendance-api",
		"JWT_ACCESS_SECRET":             "",
		"OTEL_SERVICE_NAME":             "scan-attendance-service",
		"OTEL_ENVIRONMENT":              "development",
		"OTEL_EXPORTER_OTLP_ENDPOINT":   "localhost:4317",
		"OTEL_EXPORTER_OTLP_INSECURE":   true,
		"OTEL_METRICS_ENABLED":          false,
		"OTEL_TRACING_ENABLED":          false,
		"OTEL_LOGS_ENABLED":             false,
		"OTEL_METRICS_EXPORT_INTERVAL":  "15s",
		"OTEL_TRACE_SAMPLING_RATIO":     1.0,
		"OTEL_HTTP_ENABLED":             false,
		"SHUTDOWN_TIMEOUT":              "15s",
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case StoreBackendRedis, StoreBackendPostgres, StoreBackendSQLite, StoreBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of redis, postgres, sqlite, memory (got %q)", c.StoreBackend))
	}
	if c.StoreBackend == StoreBackendPostgres && strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres"))
	}
	if c.StoreBackend == StoreBackendRedis && strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when STORE_BACKEND=redis"))
	}
	if c.RateLimitBackend != "local" && c.RateLimitBackend != "redis" {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be local or redis (got %q)", c.RateLimitBackend))
	}
	if c.CredentialMaxValidity <= 0 {
		errs = append(errs, errors.New("CREDENTIAL_MAX_VALIDITY must be positive"))
	}
	if c.CredentialDefaultValidity <= 0 || c.CredentialDefaultValidity > c.CredentialMaxValidity {
		errs = append(errs, errors.New("CREDENTIAL_DEFAULT_VALIDITY must be positive and not exceed CREDENTIAL_MAX_VALIDITY"))
	}
	if c.CredentialCodeBytes < 16 || c.CredentialCodeBytes > 48 {
		errs = append(errs, errors.New("CREDENTIAL_CODE_BYTES must be between 16 and 48"))
	}
	if c.CredentialIssueMaxAttempt < 1 {
		errs = append(errs, errors.New("CREDENTIAL_ISSUE_MAX_ATTEMPTS must be at least 1"))
	}
	if c.ProximityDefaultRadiusM <= 0 || c.ProximityMaxRadiusM < c.ProximityDefaultRadiusM {
		errs = append(errs, errors.New("PROXIMITY_DEFAULT_RADIUS_M must be positive and not exceed PROXIMITY_MAX_RADIUS_M"))
	}
	if _, err := time.LoadLocation(c.AttendanceTimezone); err != nil {
		errs = append(errs, fmt.Errorf("ATTENDANCE_TIMEZONE is invalid: %w", err))
	}
	if normalizeConfigProfile(c.AppEnv) == "production" && len(c.JWTAccessSecret) < 32 {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be at least 32 bytes in production"))
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACE_SAMPLING_RATIO must be within [0,1]"))
	}
	return errors.Join(errs...)
}

func (c *Config) AttendanceLocation() *time.Location {
	loc, err := time.LoadLocation(c.AttendanceTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) CORSOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func isMissingFile(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such file") || strings.Contains(msg, "cannot find the file")
}
