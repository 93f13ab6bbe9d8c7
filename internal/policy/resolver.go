package policy

import "time"

// Resolver selects the single policy that governs a calculation.
type Resolver struct {
	Now func() time.Time
}

// Resolve returns the first candidate, in selectedIDs order, that is active and unexpired at asOf.
// A zero asOf means the resolver's current time. Finding no policy is not an error.
func (r Resolver) Resolve(candidates []PricingPolicy, selectedIDs []string, asOf time.Time) (*PricingPolicy, bool) {
	if len(candidates) == 0 || len(selectedIDs) == 0 {
		return nil, false
	}
	if asOf.IsZero() {
		asOf = r.now()
	}
	byID := Index(candidates)
	for _, id := range selectedIDs {
		p, ok := byID[id]
		if !ok || !p.ActiveAt(asOf) {
			continue
		}
		selected := p
		return &selected, true
	}
	return nil, false
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Resolve applies the default resolver backed by the wall clock.
func Resolve(candidates []PricingPolicy, selectedIDs []string, asOf time.Time) (*PricingPolicy, bool) {
	return Resolver{}.Resolve(candidates, selectedIDs, asOf)
}
