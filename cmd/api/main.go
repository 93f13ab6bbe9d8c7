package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-bizadmin/internal/catalog"
	"github.com/noah-isme/backend-bizadmin/internal/config"
	"github.com/noah-isme/backend-bizadmin/internal/explain"
	"github.com/noah-isme/backend-bizadmin/internal/health"
	"github.com/noah-isme/backend-bizadmin/internal/obs"
	"github.com/noah-isme/backend-bizadmin/internal/quote"
	"github.com/noah-isme/backend-bizadmin/internal/ratelimit"
	"github.com/noah-isme/backend-bizadmin/internal/resilience"
	"github.com/noah-isme/backend-bizadmin/internal/security"
)

const serviceName = "bizadmin-pricing"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   serviceName,
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	var pricingMetrics *obs.PricingMetrics
	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		pricingMetrics = obs.MustRegisterPricingMetrics(cfg.MetricsNamespace)
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBucketsMS), nil)
	}

	probes := []health.Probe{}

	var source catalog.Source
	if cfg.UsesDatabase() {
		pool := mustConnectDB(ctx, cfg, logger)
		defer pool.Close()
		breaker := resilience.NewBreaker(cfg.CircuitStoreWindow, cfg.CircuitStoreFailureRate, cfg.CircuitStoreOpenFor).
			WithTarget("policy_store").
			WithLogger(logger.With().Str("component", "breaker").Logger())
		if cfg.MetricsEnabled {
			breaker.WithMetrics(resilience.NewMetrics(cfg.MetricsNamespace, nil))
		}
		store := catalog.PGStore{DB: pool, OnReject: reportRejected(logger, pricingMetrics, "postgres")}
		source = catalog.GuardedSource{Source: store, Breaker: breaker}
		probes = append(probes, health.Probe{Name: "db", Check: pool.Ping})
	} else {
		source = catalog.FileSource{Path: cfg.PolicyCatalogPath, OnReject: reportRejected(logger, pricingMetrics, "file")}
		logger.Info().Str("path", cfg.PolicyCatalogPath).Msg("serving policies from file catalog")
	}
	probes = append(probes, health.Probe{Name: "catalog", Check: func(ctx context.Context) error {
		_, err := source.Snapshot(ctx)
		return err
	}})

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = mustConnectRedis(ctx, cfg, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		probes = append(probes, health.Probe{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	limitStore, err := ratelimit.NewStore(redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limit store")
	}
	limit, err := ratelimit.New(limitStore, ratelimit.Config{
		Rate: cfg.RateLimit,
		OnError: func(err error) {
			logger.Error().Err(err).Msg("rate limit store")
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	formatter := explain.Formatter{CurrencySymbol: cfg.CurrencySymbol, ExampleQuantity: cfg.ExampleQuantity}
	svc := quote.NewService(source, formatter, logger.With().Str("component", "quote").Logger(), pricingMetrics)

	router := newRouter(routerDeps{
		Logger:         logger,
		Quote:          &quote.Handler{Svc: svc},
		Health:         health.Handler{Probes: probes, Timeout: cfg.ReadyProbeTimeout},
		RateLimit:      limit,
		Headers:        security.Headers{Enable: cfg.SecureHeaders, EnableHSTS: cfg.EnableHSTS, HSTSIncludeSubdomains: true},
		MaxBodyBytes:   cfg.MaxBodyBytes,
		HTTPMetrics:    httpMetrics,
		MetricsEnabled: cfg.MetricsEnabled,
		Tracing:        tracingEnabled,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("HTTP_SHUTDOWN_TIMEOUT_MS", 10000))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown http server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func reportRejected(logger zerolog.Logger, metrics *obs.PricingMetrics, source string) catalog.RejectFunc {
	return func(r catalog.Rejection) {
		metrics.ObserveRejectedRecord(source)
		logger.Warn().
			Err(r.Err).
			Str("source", source).
			Str("policy_id", r.ID).
			Int("index", r.Index).
			Msg("policy record quarantined")
	}
}

func mustConnectDB(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	if cfg.RunMigrations {
		if err := catalog.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = serviceName

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(connectCtx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustConnectRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	ms := fallback
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && parsed > 0 {
			ms = parsed
		}
	}
	return time.Duration(ms) * time.Millisecond
}
