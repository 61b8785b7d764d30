// Package config provides application configuration loading from environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Storage backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Telemetry exporters.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterOTLPHTTP = "otlp-http"
)

// Config holds all configuration for the application.
type Config struct {
	DatabaseURL        string
	Store              string
	LogLevel           string
	LogFormat          string
	HTTPAddr           string
	CORSAllowedOrigins []string

	BillingTimezone    string
	BillingCron        string
	BillingMaxPeriods  int
	BillingWorkers     int
	BillingUnitTimeout time.Duration
	BillingRunTimeout  time.Duration

	OTelExporter    string
	OTelServiceName string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Store:       StorePostgres,
		LogLevel:    os.Getenv("LOG_LEVEL"),
		LogFormat:   os.Getenv("LOG_FORMAT"),
		HTTPAddr:    ":8080",

		BillingTimezone:    "Asia/Singapore",
		BillingCron:        "@hourly",
		BillingMaxPeriods:  36,
		BillingWorkers:     4,
		BillingUnitTimeout: 10 * time.Second,
		BillingRunTimeout:  5 * time.Minute,

		OTelExporter:    ExporterNone,
		OTelServiceName: "subscription-engine",
	}

	if store := strings.ToLower(strings.TrimSpace(os.Getenv("STORE"))); store != "" {
		cfg.Store = store
	}
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}

	originsStr := os.Getenv("CORS_ALLOWED_ORIGINS")
	if originsStr != "" {
		for origin := range strings.SplitSeq(originsStr, ",") {
			origin = strings.TrimSpace(origin)
			if origin == "" {
				continue
			}
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}

	if tz := os.Getenv("BILLING_TIMEZONE"); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			cfg.BillingTimezone = tz
		}
	}
	if spec := strings.TrimSpace(os.Getenv("BILLING_CRON")); spec != "" {
		cfg.BillingCron = spec
	}
	if n, ok := positiveInt("BILLING_MAX_PERIODS"); ok {
		cfg.BillingMaxPeriods = n
	}
	if n, ok := positiveInt("BILLING_WORKERS"); ok {
		cfg.BillingWorkers = n
	}
	if d, ok := positiveDuration("BILLING_UNIT_TIMEOUT"); ok {
		cfg.BillingUnitTimeout = d
	}
	if d, ok := positiveDuration("BILLING_RUN_TIMEOUT"); ok {
		cfg.BillingRunTimeout = d
	}

	if exp := strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_EXPORTER"))); exp != "" {
		cfg.OTelExporter = exp
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		cfg.OTelServiceName = name
	}

	// Validate required configuration.
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Location returns the billing time zone. Load has already verified it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BillingTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// validate checks that all required configuration is present.
func (c *Config) validate() error {
	var errs []string

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Sprintf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store))
	}

	if _, err := cron.ParseStandard(c.BillingCron); err != nil {
		errs = append(errs, fmt.Sprintf("BILLING_CRON is invalid: %v", err))
	}

	switch c.OTelExporter {
	case ExporterNone, ExporterStdout, ExporterOTLPGRPC, ExporterOTLPHTTP:
	default:
		errs = append(errs, fmt.Sprintf("OTEL_EXPORTER %q is not supported", c.OTelExporter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func positiveInt(key string) (int, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func positiveDuration(key string) (time.Duration, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
