package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBodyLimitAllowsWithinLimit(t *testing.T) {
	var captured string
	handler := BodyLimit{Max: 64}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		captured = string(data)
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"unitPrice":1,"quantity":2}`
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, body, captured)
}

func TestBodyLimitRejectsLargePayload(t *testing.T) {
	handler := BodyLimit{Max: 8}.Middleware(okHandler())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote", strings.NewReader(`{"quantity":123456}`)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Contains(t, rr.Body.String(), "PAYLOAD_TOO_LARGE")
}

func TestBodyLimitUnknownLength(t *testing.T) {
	handler := BodyLimit{Max: 8}.Middleware(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote", strings.NewReader(`{"quantity":123456}`))
	req.ContentLength = -1
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
