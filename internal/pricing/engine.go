package pricing

import (
	"fmt"
	"math"

	"github.com/noah-isme/backend-bizadmin/internal/policy"
)

// Bracket records how many units a tier billed and what they contributed.
type Bracket struct {
	Tier         policy.Tier `json:"tier"`
	FirstUnit    int         `json:"firstUnit"`
	LastUnit     int         `json:"lastUnit"`
	Units        int         `json:"units"`
	Contribution float64     `json:"contribution"`
}

// Result is the structured outcome of a price calculation. Amounts are unrounded.
type Result struct {
	UnitPrice            float64               `json:"unitPrice"`
	Quantity             int                   `json:"quantity"`
	OriginalPrice        float64               `json:"originalPrice"`
	DiscountedPrice      float64               `json:"discountedPrice"`
	DiscountAmount       float64               `json:"discountAmount"`
	DiscountRatioPercent float64               `json:"discountRatioPercent"`
	AppliedPolicy        *policy.PricingPolicy `json:"appliedPolicy,omitempty"`
	Brackets             []Bracket             `json:"brackets,omitempty"`
	CalculationDetails   string                `json:"calculationDetails,omitempty"`
}

// Compute prices quantity units at unitPrice under the resolved policy, or undiscounted when p is nil.
func Compute(unitPrice float64, quantity int, p *policy.PricingPolicy) (Result, error) {
	if math.IsNaN(unitPrice) || math.IsInf(unitPrice, 0) || unitPrice <= 0 {
		return Result{}, &InputError{Field: "unitPrice", Reason: fmt.Sprintf("must be a positive number, got %v", unitPrice)}
	}
	if quantity <= 0 {
		return Result{}, &InputError{Field: "quantity", Reason: fmt.Sprintf("must be a positive integer, got %d", quantity)}
	}

	original := unitPrice * float64(quantity)
	res := Result{
		UnitPrice:     unitPrice,
		Quantity:      quantity,
		OriginalPrice: original,
	}
	if p == nil {
		res.DiscountedPrice = original
		res.DiscountRatioPercent = 100
		return res, nil
	}
	if err := policy.Validate(*p); err != nil {
		return Result{}, err
	}

	applied := *p
	res.AppliedPolicy = &applied
	switch p.Kind {
	case policy.KindUniform:
		res.DiscountedPrice = original * p.DiscountRatioPercent / 100
	case policy.KindTiered:
		brackets, total, err := graduate(unitPrice, quantity, p)
		if err != nil {
			return Result{}, err
		}
		res.Brackets = brackets
		res.DiscountedPrice = total
	}
	res.DiscountAmount = original - res.DiscountedPrice
	res.DiscountRatioPercent = res.DiscountedPrice / original * 100
	return res, nil
}

// graduate walks the tiers and bills each unit at the ratio of the bracket containing its position.
func graduate(unitPrice float64, quantity int, p *policy.PricingPolicy) ([]Bracket, float64, error) {
	if upTo, unbounded := CoveredUpTo(p.Tiers); !unbounded && quantity > upTo {
		return nil, 0, &ConfigurationError{PolicyID: p.ID, CoveredUpTo: upTo, Quantity: quantity}
	}
	brackets := make([]Bracket, 0, len(p.Tiers))
	var total float64
	for _, t := range p.Tiers {
		if t.StartQuantity > quantity {
			break
		}
		last := quantity
		if t.EndQuantity != nil && *t.EndQuantity < quantity {
			last = *t.EndQuantity
		}
		units := last - t.StartQuantity + 1
		if units <= 0 {
			continue
		}
		contribution := float64(units) * unitPrice * t.DiscountRatioPercent / 100
		total += contribution
		brackets = append(brackets, Bracket{
			Tier:         t,
			FirstUnit:    t.StartQuantity,
			LastUnit:     last,
			Units:        units,
			Contribution: contribution,
		})
	}
	return brackets, total, nil
}

// CoveredUpTo returns the highest quantity whose every unit is priced by the tiers.
// unbounded is true when coverage reaches an open-ended tier without gaps.
func CoveredUpTo(tiers []policy.Tier) (upTo int, unbounded bool) {
	next := 1
	for _, t := range tiers {
		if t.StartQuantity > next {
			return next - 1, false
		}
		if t.IsOpenEnded() {
			return next - 1, true
		}
		end := *t.EndQuantity
		if end == math.MaxInt {
			return end, false
		}
		if end >= next {
			next = end + 1
		}
	}
	return next - 1, false
}

// Covers reports whether every unit position from 1 to quantity falls inside some tier.
func Covers(tiers []policy.Tier, quantity int) bool {
	upTo, unbounded := CoveredUpTo(tiers)
	return unbounded || quantity <= upTo
}
