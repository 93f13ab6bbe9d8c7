package ratelimit

import (
	"fmt"
	"net/http"
	"strings"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/backend-bizadmin/internal/common"
)

const keyPrefix = "bizadmin:ratelimit"

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	// Rate uses the limiter formatted notation, e.g. "120-M" or "10-S".
	Rate string
	// Key defaults to the client IP.
	Key func(*http.Request) string
	// OnError observes store failures. Such requests are answered with 503 RATE_LIMIT_UNAVAILABLE.
	OnError func(error)
}

// NewStore returns a Redis-backed store shared across replicas, or an in-process store when rdb is nil.
func NewStore(rdb *redis.Client) (limiter.Store, error) {
	opts := limiter.StoreOptions{Prefix: keyPrefix}
	if rdb == nil {
		return memory.NewStoreWithOptions(opts), nil
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, opts)
	if err != nil {
		return nil, fmt.Errorf("limiter redis store: %w", err)
	}
	return store, nil
}

// New builds rate limiting middleware over store.
func New(store limiter.Store, cfg Config) (func(http.Handler) http.Handler, error) {
	rate, err := limiter.NewRateFromFormatted(strings.TrimSpace(cfg.Rate))
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", cfg.Rate, err)
	}
	key := cfg.Key
	if key == nil {
		key = common.ClientIP
	}
	mw := stdlib.NewMiddleware(limiter.New(store, rate),
		stdlib.WithKeyGetter(key),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
			if cfg.OnError != nil {
				cfg.OnError(err)
			}
			common.JSONError(w, http.StatusServiceUnavailable, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable", nil)
		}),
	)
	return mw.Handler, nil
}
