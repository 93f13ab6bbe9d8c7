package quote

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-bizadmin/internal/catalog"
	"github.com/noah-isme/backend-bizadmin/internal/explain"
	"github.com/noah-isme/backend-bizadmin/internal/obs"
	"github.com/noah-isme/backend-bizadmin/internal/policy"
	"github.com/noah-isme/backend-bizadmin/internal/pricing"
)

var tracer = obs.Tracer("pricing.quote")

// Request describes a single price calculation.
type Request struct {
	UnitPrice float64    `json:"unitPrice" validate:"gt=0"`
	Quantity  int        `json:"quantity" validate:"min=1"`
	UnitLabel string     `json:"unitLabel,omitempty" validate:"max=16"`
	PolicyIDs []string   `json:"policyIds" validate:"dive,required"`
	AsOf      *time.Time `json:"asOf,omitempty"`
}

// Service prices requests against a fresh snapshot of the policy catalog.
type Service struct {
	Catalog   catalog.Source
	Now       func() time.Time
	Logger    zerolog.Logger
	Formatter explain.Formatter
	Metrics   *obs.PricingMetrics

	validate *validator.Validate
}

// NewService constructs a Service with a request validator.
func NewService(src catalog.Source, formatter explain.Formatter, logger zerolog.Logger, metrics *obs.PricingMetrics) *Service {
	return &Service{
		Catalog:   src,
		Formatter: formatter,
		Logger:    logger,
		Metrics:   metrics,
		validate:  newValidator(),
	}
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Quote resolves the governing policy and prices the request. The returned
// result carries the rendered derivation in CalculationDetails.
func (s *Service) Quote(ctx context.Context, req Request) (pricing.Result, error) {
	if s == nil || s.Catalog == nil {
		return pricing.Result{}, errors.New("quote service not configured")
	}
	ctx, span := tracer.Start(ctx, "pricing.Quote")
	defer span.End()
	span.SetAttributes(
		attribute.Int("pricing.quantity", req.Quantity),
		attribute.StringSlice("pricing.policy_ids", req.PolicyIDs),
	)

	if err := s.validateRequest(req); err != nil {
		s.Metrics.ObserveCalculation("", "invalid_input", 0)
		span.SetStatus(codes.Error, err.Error())
		return pricing.Result{}, err
	}

	candidates, err := catalog.Load(ctx, s.Catalog)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog snapshot")
		return pricing.Result{}, err
	}

	asOf := s.now()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}
	applied, found := policy.Resolver{Now: s.now}.Resolve(candidates, req.PolicyIDs, asOf)
	s.Metrics.ObserveResolution(found)

	kind := ""
	if found {
		kind = string(applied.Kind)
		span.SetAttributes(attribute.String("pricing.policy_id", applied.ID), attribute.String("pricing.kind", kind))
	}

	result, err := pricing.Compute(req.UnitPrice, req.Quantity, applied)
	if err != nil {
		s.observeFailure(kind, err)
		span.SetStatus(codes.Error, err.Error())
		return pricing.Result{}, err
	}
	result.CalculationDetails = s.Formatter.Derivation(result, req.UnitLabel)

	s.Metrics.ObserveCalculation(kind, "ok", result.DiscountRatioPercent)
	span.SetAttributes(attribute.Float64("pricing.discount_ratio_percent", result.DiscountRatioPercent))
	s.Logger.Debug().
		Str("policy_kind", kind).
		Int("quantity", req.Quantity).
		Float64("discounted_price", result.DiscountedPrice).
		Float64("discount_ratio_percent", result.DiscountRatioPercent).
		Msg("pricing quote computed")
	return result, nil
}

// Explain renders the explanation of a single catalog policy. Only the modal
// mode shows amounts, so unitPrice may be omitted for hover and append text.
func (s *Service) Explain(ctx context.Context, policyID string, mode explain.Mode, unitPrice float64, unit string) (string, error) {
	if s == nil || s.Catalog == nil {
		return "", errors.New("quote service not configured")
	}
	ctx, span := tracer.Start(ctx, "pricing.Explain")
	defer span.End()
	span.SetAttributes(attribute.String("pricing.policy_id", policyID), attribute.String("pricing.mode", string(mode)))

	p, err := catalog.Find(ctx, s.Catalog, strings.TrimSpace(policyID))
	if err != nil {
		return "", err
	}
	if err := policy.Validate(p); err != nil {
		s.observeFailure(string(p.Kind), err)
		return "", err
	}
	text, err := s.Formatter.Describe(&p, mode, unitPrice, unit)
	if err != nil {
		s.observeFailure(string(p.Kind), err)
		return "", err
	}
	return text, nil
}

// ActivePolicies lists the policies of a fresh snapshot that are in force now.
// Quarantined records are left out.
func (s *Service) ActivePolicies(ctx context.Context) ([]policy.PricingPolicy, error) {
	if s == nil || s.Catalog == nil {
		return nil, errors.New("quote service not configured")
	}
	all, err := catalog.Load(ctx, s.Catalog)
	if err != nil {
		return nil, err
	}
	now := s.now()
	active := make([]policy.PricingPolicy, 0, len(all))
	for _, p := range all {
		if p.Defect == nil && p.ActiveAt(now) {
			active = append(active, p)
		}
	}
	return active, nil
}

func (s *Service) validateRequest(req Request) error {
	v := s.validate
	if v == nil {
		v = newValidator()
	}
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &pricing.InputError{Field: fe.Field(), Reason: fmt.Sprintf("failed %s=%s, got %v", fe.Tag(), fe.Param(), fe.Value())}
	}
	return &pricing.InputError{Field: "request", Reason: err.Error()}
}

func (s *Service) observeFailure(kind string, err error) {
	switch {
	case errors.Is(err, policy.ErrDefective):
		s.Metrics.ObserveCalculation(kind, "defective_record", 0)
		s.Logger.Error().Err(err).Msg("quarantined pricing policy selected")
	case errors.Is(err, pricing.ErrConfiguration):
		s.Metrics.ObserveCalculation(kind, "configuration_error", 0)
		s.Logger.Warn().Err(err).Str("policy_kind", kind).Msg("pricing policy does not cover quantity")
	case errors.Is(err, pricing.ErrInvalidInput):
		s.Metrics.ObserveCalculation(kind, "invalid_input", 0)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
