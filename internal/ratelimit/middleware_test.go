package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	limiter "github.com/ulule/limiter/v3"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote", nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestMiddlewareEnforcesLimitPerClient(t *testing.T) {
	store, err := NewStore(nil)
	require.NoError(t, err)
	mw, err := New(store, Config{Rate: "1-M"})
	require.NoError(t, err)
	h := mw(okHandler())

	require.Equal(t, http.StatusOK, serve(h, "192.0.2.1:1000").Code)
	blocked := serve(h, "192.0.2.1:1001")
	require.Equal(t, http.StatusTooManyRequests, blocked.Code)
	require.Equal(t, "1", blocked.Header().Get("X-RateLimit-Limit"))
	require.Contains(t, blocked.Body.String(), "RATE_LIMITED")

	require.Equal(t, http.StatusOK, serve(h, "192.0.2.2:1000").Code)
}

func TestMiddlewareRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewStore(client)
	require.NoError(t, err)
	mw, err := New(store, Config{Rate: "2-M", Key: func(*http.Request) string { return "static" }})
	require.NoError(t, err)
	h := mw(okHandler())

	require.Equal(t, http.StatusOK, serve(h, "192.0.2.1:1").Code)
	require.Equal(t, http.StatusOK, serve(h, "192.0.2.1:1").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(h, "192.0.2.1:1").Code)
}

type failingStore struct{ limiter.Store }

func (failingStore) Get(context.Context, string, limiter.Rate) (limiter.Context, error) {
	return limiter.Context{}, errors.New("store down")
}

func TestMiddlewareReportsStoreErrors(t *testing.T) {
	var seen error
	mw, err := New(failingStore{}, Config{Rate: "5-S", OnError: func(err error) { seen = err }})
	require.NoError(t, err)
	rr := serve(mw(okHandler()), "192.0.2.1:1")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), "RATE_LIMIT_UNAVAILABLE")
	require.EqualError(t, seen, "store down")
}

func TestNewRejectsBadRate(t *testing.T) {
	store, err := NewStore(nil)
	require.NoError(t, err)
	_, err = New(store, Config{Rate: "lots"})
	require.Error(t, err)
}
