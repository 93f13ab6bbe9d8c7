package policy

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrInvalidInput is returned when a policy or calculation input violates its invariants.
	ErrInvalidInput = errors.New("invalid pricing input")
	// ErrDefective is returned when a quarantined catalog record is used.
	ErrDefective = errors.New("defective pricing policy record")
)

// Kind tags the payload carried by a PricingPolicy.
type Kind string

const (
	// KindUniform applies a single ratio to the whole billed quantity.
	KindUniform Kind = "UniformDiscount"
	// KindTiered bills units progressively across quantity brackets.
	KindTiered Kind = "TieredDiscount"
)

// Status controls whether a policy may be selected.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Tier is a quantity bracket of a tiered policy. A nil EndQuantity extends to infinity.
type Tier struct {
	StartQuantity        int     `json:"startQuantity" yaml:"startQuantity"`
	EndQuantity          *int    `json:"endQuantity,omitempty" yaml:"endQuantity,omitempty"`
	DiscountRatioPercent float64 `json:"discountRatioPercent" yaml:"discountRatioPercent"`
}

// IsOpenEnded reports whether the bracket has no upper bound.
func (t Tier) IsOpenEnded() bool { return t.EndQuantity == nil }

// IsSingleUnit reports whether the bracket covers exactly one unit.
func (t Tier) IsSingleUnit() bool {
	return t.EndQuantity != nil && *t.EndQuantity == t.StartQuantity
}

// PricingPolicy is a discount policy attached to a priced service.
type PricingPolicy struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Alias                string     `json:"alias,omitempty"`
	Kind                 Kind       `json:"kind"`
	Summary              string     `json:"summary,omitempty"`
	ValidUntil           *time.Time `json:"validUntil,omitempty"`
	Status               Status     `json:"status"`
	DiscountRatioPercent float64    `json:"discountRatioPercent,omitempty"`
	Tiers                []Tier     `json:"tiers,omitempty"`

	// Defect is set on records that failed normalization. Such a policy still
	// takes part in resolution but cannot be priced or explained.
	Defect error `json:"-"`
}

// ActiveAt reports whether the policy may be applied at the given instant.
func (p PricingPolicy) ActiveAt(at time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	if p.ValidUntil != nil && p.ValidUntil.Before(at) {
		return false
	}
	return true
}

// SortedTiers returns a copy of tiers ordered by ascending start quantity.
func SortedTiers(tiers []Tier) []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartQuantity < out[j].StartQuantity
	})
	return out
}

// Index maps policies by id. Later duplicates do not replace earlier ones.
func Index(policies []PricingPolicy) map[string]PricingPolicy {
	out := make(map[string]PricingPolicy, len(policies))
	for _, p := range policies {
		if _, exists := out[p.ID]; exists {
			continue
		}
		out[p.ID] = p
	}
	return out
}

// Bound is a convenience for building closed tiers.
func Bound(n int) *int { return &n }
