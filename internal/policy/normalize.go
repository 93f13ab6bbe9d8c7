package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Alias keys accepted for tier fields. The first key of each list is canonical.
var (
	tierStartKeys = []string{"startQuantity", "minQuantity", "minAmount", "start", "min"}
	tierEndKeys   = []string{"endQuantity", "maxQuantity", "maxAmount", "end", "max"}
	tierRatioKeys = []string{"discountRatioPercent", "discountRatio", "ratio", "discount"}
)

// RawTier is a tier record as stored by hosts, possibly using legacy field names.
type RawTier map[string]any

// RawPolicy is a policy record as stored by hosts. Loosely typed fields accept legacy encodings.
type RawPolicy struct {
	ID                   any       `json:"id" yaml:"id"`
	Name                 string    `json:"name" yaml:"name"`
	Alias                string    `json:"alias" yaml:"alias"`
	Kind                 any       `json:"kind" yaml:"kind"`
	Type                 any       `json:"type" yaml:"type"`
	Summary              string    `json:"summary" yaml:"summary"`
	ValidUntil           any       `json:"validUntil" yaml:"validUntil"`
	Status               any       `json:"status" yaml:"status"`
	DiscountRatioPercent any       `json:"discountRatioPercent" yaml:"discountRatioPercent"`
	DiscountRatio        any       `json:"discountRatio" yaml:"discountRatio"`
	Tiers                []RawTier `json:"tiers" yaml:"tiers"`
}

// Normalize maps a raw record onto the canonical PricingPolicy and validates it.
func Normalize(raw RawPolicy) (PricingPolicy, error) {
	id := scalarString(raw.ID)
	if id == "" {
		return PricingPolicy{}, fmt.Errorf("policy id is required: %w", ErrInvalidInput)
	}
	kindValue := raw.Kind
	if isBlank(kindValue) {
		kindValue = raw.Type
	}
	kind, err := parseKind(kindValue)
	if err != nil {
		return PricingPolicy{}, fmt.Errorf("policy %s: %w", id, err)
	}
	validUntil, err := parseInstant(raw.ValidUntil)
	if err != nil {
		return PricingPolicy{}, fmt.Errorf("policy %s: valid until: %w", id, err)
	}
	p := PricingPolicy{
		ID:         id,
		Name:       strings.TrimSpace(raw.Name),
		Alias:      strings.TrimSpace(raw.Alias),
		Kind:       kind,
		Summary:    raw.Summary,
		ValidUntil: validUntil,
		Status:     parseStatus(raw.Status),
	}
	switch kind {
	case KindUniform:
		ratioValue := raw.DiscountRatioPercent
		if isBlank(ratioValue) {
			ratioValue = raw.DiscountRatio
		}
		ratio, ok := toFloat(ratioValue)
		if !ok {
			return PricingPolicy{}, fmt.Errorf("policy %s: discount ratio is required: %w", id, ErrInvalidInput)
		}
		p.DiscountRatioPercent = ratio
	case KindTiered:
		p.Tiers = make([]Tier, 0, len(raw.Tiers))
		for i, rt := range raw.Tiers {
			t, err := NormalizeTier(rt)
			if err != nil {
				return PricingPolicy{}, fmt.Errorf("policy %s: tier %d: %w", id, i, err)
			}
			p.Tiers = append(p.Tiers, t)
		}
	}
	if err := Validate(p); err != nil {
		return PricingPolicy{}, err
	}
	return p, nil
}

// Quarantine builds the placeholder kept for a record that failed Normalize,
// so selecting it fails the calculation instead of falling through to the next
// candidate. It reports false for records without an id, which nothing can select.
func Quarantine(raw RawPolicy, cause error) (PricingPolicy, bool) {
	id := scalarString(raw.ID)
	if id == "" {
		return PricingPolicy{}, false
	}
	p := PricingPolicy{
		ID:      id,
		Name:    strings.TrimSpace(raw.Name),
		Alias:   strings.TrimSpace(raw.Alias),
		Summary: raw.Summary,
		Status:  parseStatus(raw.Status),
		Defect:  cause,
	}
	kindValue := raw.Kind
	if isBlank(kindValue) {
		kindValue = raw.Type
	}
	if kind, err := parseKind(kindValue); err == nil {
		p.Kind = kind
	}
	if until, err := parseInstant(raw.ValidUntil); err == nil {
		p.ValidUntil = until
	}
	return p, true
}

// NormalizeTier resolves legacy bound aliases into a canonical Tier.
// Missing, null, non-positive or infinite upper bounds mean open-ended.
func NormalizeTier(raw RawTier) (Tier, error) {
	startValue, _ := lookup(raw, tierStartKeys)
	start, ok := toFloat(startValue)
	if !ok || start != math.Trunc(start) {
		return Tier{}, fmt.Errorf("start quantity must be an integer: %w", ErrInvalidInput)
	}
	ratioValue, _ := lookup(raw, tierRatioKeys)
	ratio, ok := toFloat(ratioValue)
	if !ok {
		return Tier{}, fmt.Errorf("discount ratio is required: %w", ErrInvalidInput)
	}
	t := Tier{StartQuantity: int(start), DiscountRatioPercent: ratio}
	if endValue, present := lookup(raw, tierEndKeys); present && !isOpenBound(endValue) {
		end, ok := toFloat(endValue)
		if !ok || end != math.Trunc(end) {
			return Tier{}, fmt.Errorf("end quantity must be an integer: %w", ErrInvalidInput)
		}
		if end > 0 {
			t.EndQuantity = Bound(int(end))
		}
	}
	return t, nil
}

func lookup(raw RawTier, keys []string) (any, bool) {
	for _, key := range keys {
		if v, ok := raw[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func isOpenBound(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "", "infinity", "inf", "+inf", "∞", "null":
			return true
		}
	case float64:
		return math.IsInf(val, 1)
	}
	return false
}

func parseKind(v any) (Kind, error) {
	switch strings.ToLower(scalarString(v)) {
	case "uniformdiscount", "uniform", "discount", "1":
		return KindUniform, nil
	case "tiereddiscount", "tiered", "ladder", "2":
		return KindTiered, nil
	}
	return "", fmt.Errorf("unknown policy kind %v: %w", v, ErrInvalidInput)
}

func parseStatus(v any) Status {
	if b, ok := v.(bool); ok {
		if b {
			return StatusActive
		}
		return StatusInactive
	}
	switch strings.ToLower(scalarString(v)) {
	case "active", "enabled", "1", "true", "on":
		return StatusActive
	default:
		return StatusInactive
	}
}

func parseInstant(v any) (*time.Time, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		if val.IsZero() {
			return nil, nil
		}
		return &val, nil
	case *time.Time:
		return val, nil
	}
	s := scalarString(v)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return &ts, nil
		}
	}
	// a bare date keeps the policy valid through the whole day it names (UTC)
	if day, err := time.Parse(time.DateOnly, s); err == nil {
		ts := day.Add(24*time.Hour - time.Nanosecond)
		return &ts, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		ts := time.UnixMilli(ms).UTC()
		return &ts, nil
	}
	return nil, fmt.Errorf("unrecognised instant %q: %w", s, ErrInvalidInput)
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, !math.IsNaN(val)
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "%")), 64)
		return f, err == nil
	}
	return 0, false
}

func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func isBlank(v any) bool {
	return scalarString(v) == ""
}
