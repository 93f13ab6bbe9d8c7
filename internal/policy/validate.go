package policy

import (
	"fmt"
	"math"
)

// Validate checks the kind-specific payload of a policy.
func Validate(p PricingPolicy) error {
	if p.Defect != nil {
		return fmt.Errorf("policy %s: %w: %v", p.ID, ErrDefective, p.Defect)
	}
	switch p.Kind {
	case KindUniform:
		if !validRatio(p.DiscountRatioPercent) {
			return fmt.Errorf("policy %s: discount ratio %v outside [0,100]: %w", p.ID, p.DiscountRatioPercent, ErrInvalidInput)
		}
		return nil
	case KindTiered:
		if len(p.Tiers) == 0 {
			return fmt.Errorf("policy %s: tiered policy has no tiers: %w", p.ID, ErrInvalidInput)
		}
		if err := ValidateTiers(p.Tiers); err != nil {
			return fmt.Errorf("policy %s: %w", p.ID, err)
		}
		return nil
	default:
		return fmt.Errorf("policy %s: unknown kind %q: %w", p.ID, p.Kind, ErrInvalidInput)
	}
}

// ValidateTiers enforces ordering, non-overlap and the single trailing open-ended bracket.
func ValidateTiers(tiers []Tier) error {
	for i, t := range tiers {
		if t.StartQuantity < 1 {
			return fmt.Errorf("tier %d: start quantity %d must be at least 1: %w", i, t.StartQuantity, ErrInvalidInput)
		}
		if t.EndQuantity != nil && *t.EndQuantity < t.StartQuantity {
			return fmt.Errorf("tier %d: start %d exceeds end %d: %w", i, t.StartQuantity, *t.EndQuantity, ErrInvalidInput)
		}
		if !validRatio(t.DiscountRatioPercent) {
			return fmt.Errorf("tier %d: discount ratio %v outside [0,100]: %w", i, t.DiscountRatioPercent, ErrInvalidInput)
		}
		if t.IsOpenEnded() && i != len(tiers)-1 {
			return fmt.Errorf("tier %d: only the final tier may be open-ended: %w", i, ErrInvalidInput)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if t.StartQuantity <= prev.StartQuantity {
			return fmt.Errorf("tier %d: tiers must be sorted by ascending start quantity: %w", i, ErrInvalidInput)
		}
		if prev.EndQuantity != nil && t.StartQuantity <= *prev.EndQuantity {
			return fmt.Errorf("tier %d: range overlaps previous tier ending at %d: %w", i, *prev.EndQuantity, ErrInvalidInput)
		}
	}
	return nil
}

func validRatio(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= 0 && v <= 100
}
