package quote

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-bizadmin/internal/catalog"
	"github.com/noah-isme/backend-bizadmin/internal/common"
	"github.com/noah-isme/backend-bizadmin/internal/explain"
	"github.com/noah-isme/backend-bizadmin/internal/policy"
	"github.com/noah-isme/backend-bizadmin/internal/pricing"
	"github.com/noah-isme/backend-bizadmin/internal/resilience"
)

// Handler exposes the pricing calculator over HTTP.
type Handler struct {
	Svc *Service
}

// Routes mounts the pricing endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/quote", h.Quote)
	r.Get("/policies", h.Policies)
	r.Get("/policies/{id}/explanation", h.Explanation)
}

// Quote prices the posted request.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	result, err := h.Svc.Quote(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

// Policies lists the policies currently in force.
func (h *Handler) Policies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Svc.ActivePolicies(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": policies})
}

// Explanation renders the text shown next to a policy in the given mode.
func (h *Handler) Explanation(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode, err := explain.ParseMode(query.Get("mode"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	var unitPrice float64
	if raw := strings.TrimSpace(query.Get("unitPrice")); raw != "" {
		unitPrice, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unitPrice must be a number", nil)
			return
		}
	}
	text, err := h.Svc.Explain(r.Context(), chi.URLParam(r, "id"), mode, unitPrice, query.Get("unit"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"mode": mode, "text": text}})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	common.WriteError(w, toAppError(err))
}

func toAppError(err error) error {
	var cfgErr *pricing.ConfigurationError
	var inputErr *pricing.InputError
	switch {
	case errors.Is(err, resilience.ErrOpenCircuit):
		return common.NewAppError("CATALOG_UNAVAILABLE", "policy catalog temporarily unavailable", http.StatusServiceUnavailable, err)
	case errors.Is(err, catalog.ErrInvalidCatalog), errors.Is(err, policy.ErrDefective):
		return common.NewAppError("CATALOG_INVALID", "policy catalog contains an invalid record", http.StatusInternalServerError, err)
	case errors.Is(err, catalog.ErrUnavailable):
		return common.NewAppError("CATALOG_UNAVAILABLE", "policy catalog unavailable", http.StatusServiceUnavailable, err)
	case errors.As(err, &cfgErr):
		return common.NewAppError("POLICY_CONFIGURATION", cfgErr.Error(), http.StatusUnprocessableEntity, err).
			WithDetails(map[string]any{"policyId": cfgErr.PolicyID, "coveredUpTo": cfgErr.CoveredUpTo, "quantity": cfgErr.Quantity})
	case errors.Is(err, pricing.ErrConfiguration):
		return common.NewAppError("POLICY_CONFIGURATION", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.As(err, &inputErr):
		return common.NewAppError("INVALID_INPUT", inputErr.Error(), http.StatusBadRequest, err).
			WithDetails(map[string]any{"field": inputErr.Field})
	case errors.Is(err, pricing.ErrInvalidInput):
		return common.NewAppError("INVALID_INPUT", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, explain.ErrUnknownMode):
		return common.NewAppError("BAD_REQUEST", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, catalog.ErrNotFound):
		return common.NewAppError("NOT_FOUND", "pricing policy not found", http.StatusNotFound, err)
	}
	return err
}
