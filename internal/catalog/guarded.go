package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/backend-bizadmin/internal/policy"
	"github.com/noah-isme/backend-bizadmin/internal/resilience"
)

// GuardedSource puts a circuit breaker in front of a remote Source so an
// unavailable store fails fast with resilience.ErrOpenCircuit.
type GuardedSource struct {
	Source  Source
	Breaker *resilience.Breaker
}

// Snapshot delegates to the wrapped source when the breaker admits the call.
func (g GuardedSource) Snapshot(ctx context.Context) ([]policy.PricingPolicy, error) {
	if g.Breaker == nil {
		return g.Source.Snapshot(ctx)
	}
	var (
		out     []policy.PricingPolicy
		dataErr error
	)
	err := g.Breaker.Do(ctx, func(ctx context.Context) error {
		policies, err := g.Source.Snapshot(ctx)
		if errors.Is(err, ErrInvalidCatalog) {
			// the store answered; its content is not a store outage
			dataErr = err
			return nil
		}
		out = policies
		return err
	})
	if err == nil {
		err = dataErr
	}
	if err != nil {
		return nil, fmt.Errorf("policy snapshot: %w", err)
	}
	return out, nil
}
