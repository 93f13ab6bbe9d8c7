package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	PolicyCatalogPath  string
	RunMigrations      bool
	CORSAllowedOrigins []string

	CurrencySymbol  string
	ExampleQuantity int
	RateLimit       string

	SecureHeaders bool
	EnableHSTS    bool
	MaxBodyBytes  int64

	CircuitStoreWindow      int
	CircuitStoreFailureRate float64
	CircuitStoreOpenFor     time.Duration

	LogFormat         string
	LogLevel          string
	MetricsEnabled    bool
	MetricsNamespace  string
	MetricsBucketsMS  string
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampling   float64
	ReadyProbeTimeout time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		PolicyCatalogPath:  strings.TrimSpace(k.String("POLICY_CATALOG_PATH")),
		RunMigrations:      parseBool(k.String("RUN_MIGRATIONS"), false),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		CurrencySymbol:     valueOrDefault(k.String("PRICING_CURRENCY_SYMBOL"), "¥"),
		ExampleQuantity:    parseInt(k.String("PRICING_EXAMPLE_QUANTITY"), 100),
		RateLimit:          valueOrDefault(k.String("RATE_LIMIT"), "120-M"),
		SecureHeaders:      parseBool(k.String("SECURE_HEADERS"), true),
		EnableHSTS:         parseBool(k.String("SECURE_HSTS"), false),
		MaxBodyBytes:       int64(parseInt(k.String("HTTP_MAX_BODY_BYTES"), 64<<10)),

		CircuitStoreWindow:      parseInt(k.String("CIRCUIT_STORE_WINDOW"), 10),
		CircuitStoreFailureRate: parseFloat(k.String("CIRCUIT_STORE_FAILURE_RATE"), 0.5),
		CircuitStoreOpenFor:     parseDuration(k.String("CIRCUIT_STORE_OPEN_FOR"), "30s"),

		LogFormat:          valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:           valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsEnabled:     parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsNamespace:   valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "bizadmin"),
		MetricsBucketsMS:   k.String("OBS_METRICS_BUCKETS_MS"),
		TracingEnabled:     parseBool(k.String("OBS_ENABLE_TRACING"), false),
		OTLPEndpoint:       strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSampling:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		ReadyProbeTimeout:  parseDuration(k.String("HEALTH_READY_TIMEOUT"), "500ms"),
	}

	if cfg.DatabaseURL == "" && cfg.PolicyCatalogPath == "" {
		return nil, errors.New("either DATABASE_URL or POLICY_CATALOG_PATH is required")
	}
	if cfg.ExampleQuantity <= 0 {
		return nil, errors.New("PRICING_EXAMPLE_QUANTITY must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// UsesDatabase reports whether the policy catalog lives in Postgres.
func (c *Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		return parsed
	}
	return fallback
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
