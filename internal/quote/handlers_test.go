package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bizadmin/internal/catalog"
	"github.com/noah-isme/backend-bizadmin/internal/common"
	"github.com/noah-isme/backend-bizadmin/internal/policy"
	"github.com/noah-isme/backend-bizadmin/internal/resilience"
)

type errorEnvelope struct {
	Error common.ErrorBody `json:"error"`
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	svc, _ := newTestService(t, testCatalog())
	h := &Handler{Svc: svc}
	r := chi.NewRouter()
	r.Route("/api/v1/pricing", h.Routes)
	return r
}

func do(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) common.ErrorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env.Error
}

func TestQuoteEndpoint(t *testing.T) {
	router := newRouter(t)
	rr := do(t, router, http.MethodPost, "/api/v1/pricing/quote",
		`{"unitPrice":1000,"quantity":25,"unitLabel":"件","policyIds":["ladder"]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Data struct {
			DiscountedPrice    float64 `json:"discountedPrice"`
			DiscountAmount     float64 `json:"discountAmount"`
			CalculationDetails string  `json:"calculationDetails"`
			AppliedPolicy      struct {
				ID string `json:"id"`
			} `json:"appliedPolicy"`
			Brackets []struct {
				Units int `json:"units"`
			} `json:"brackets"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.InDelta(t, 21000, body.Data.DiscountedPrice, 1e-9)
	require.InDelta(t, 4000, body.Data.DiscountAmount, 1e-9)
	require.Equal(t, "ladder", body.Data.AppliedPolicy.ID)
	require.Len(t, body.Data.Brackets, 2)
	require.True(t, strings.HasPrefix(body.Data.CalculationDetails, "原价：¥1,000 × 25件 = ¥25,000"))
}

func TestQuoteEndpointErrors(t *testing.T) {
	router := newRouter(t)

	rr := do(t, router, http.MethodPost, "/api/v1/pricing/quote", `{"unitPrice":0,"quantity":1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "INVALID_INPUT", decodeError(t, rr).Code)

	rr = do(t, router, http.MethodPost, "/api/v1/pricing/quote", `{"unitPrice":5,"quantity":11,"policyIds":["closed"]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "POLICY_CONFIGURATION", errBody.Code)
	require.Equal(t, map[string]any{"policyId": "closed", "coveredUpTo": float64(10), "quantity": float64(11)}, errBody.Details)

	rr = do(t, router, http.MethodPost, "/api/v1/pricing/quote", `{"unitPrice":"lots"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "BAD_REQUEST", decodeError(t, rr).Code)
}

func TestExplanationEndpoint(t *testing.T) {
	router := newRouter(t)

	rr := do(t, router, http.MethodGet, "/api/v1/pricing/policies/ladder/explanation?mode=append&unit=%E9%A1%B9", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data struct {
			Mode string `json:"mode"`
			Text string `json:"text"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "append", body.Data.Mode)
	require.Equal(t, "阶梯优惠：\n第1-5项按100%计费\n第6项及以上按80%计费", body.Data.Text)

	rr = do(t, router, http.MethodGet, "/api/v1/pricing/policies/missing/explanation", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/v1/pricing/policies/ladder/explanation?mode=popup", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/v1/pricing/policies/ladder/explanation?mode=modal&unitPrice=abc", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/v1/pricing/policies/ladder/explanation?mode=modal", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "INVALID_INPUT", decodeError(t, rr).Code)
}

func TestPoliciesEndpoint(t *testing.T) {
	router := newRouter(t)
	rr := do(t, router, http.MethodGet, "/api/v1/pricing/policies", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data, 3)
}

type openCircuitSource struct{}

func (openCircuitSource) Snapshot(context.Context) ([]policy.PricingPolicy, error) {
	return nil, fmt.Errorf("policy snapshot: %w", resilience.ErrOpenCircuit)
}

func TestCatalogUnavailable(t *testing.T) {
	svc, _ := newTestService(t, openCircuitSource{})
	r := chi.NewRouter()
	r.Route("/api/v1/pricing", (&Handler{Svc: svc}).Routes)

	rr := do(t, r, http.MethodGet, "/api/v1/pricing/policies", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "CATALOG_UNAVAILABLE", decodeError(t, rr).Code)
}

func TestCatalogErrorsAreServerSide(t *testing.T) {
	route := func(src catalog.Source) http.Handler {
		svc, _ := newTestService(t, src)
		r := chi.NewRouter()
		r.Route("/api/v1/pricing", (&Handler{Svc: svc}).Routes)
		return r
	}

	router := route(partlyBrokenSource(t, "active"))
	rr := do(t, router, http.MethodPost, "/api/v1/pricing/quote", `{"unitPrice":10,"quantity":3,"policyIds":["legacy-broken"]}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "CATALOG_INVALID", decodeError(t, rr).Code)

	rr = do(t, router, http.MethodPost, "/api/v1/pricing/quote", `{"unitPrice":10,"quantity":3,"policyIds":["flat-70"]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policies: [unterminated"), 0o600))
	rr = do(t, route(catalog.FileSource{Path: path}), http.MethodGet, "/api/v1/pricing/policies", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "CATALOG_INVALID", decodeError(t, rr).Code)

	rr = do(t, route(failingSource{}), http.MethodGet, "/api/v1/pricing/policies", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "CATALOG_UNAVAILABLE", decodeError(t, rr).Code)
}
