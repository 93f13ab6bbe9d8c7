package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestLoggerWritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "debug")
	handler := RequestLogger{Logger: logger}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("{}"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote", nil)
	req = req.WithContext(WithRoutePattern(req.Context(), "/api/v1/pricing/quote"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "http_request", entry["message"])
	require.Equal(t, "/api/v1/pricing/quote", entry["route"])
	require.Equal(t, float64(http.StatusBadRequest), entry["status"])
	require.Equal(t, float64(2), entry["bytes"])
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "nonsense")
	logger.Debug().Msg("hidden")
	require.Zero(t, buf.Len())
	logger.Info().Msg("shown")
	require.NotZero(t, buf.Len())
}
