package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/backend-bizadmin/internal/policy"
)

var (
	// ErrNotFound is returned when a policy id is not present in the catalog.
	ErrNotFound = errors.New("pricing policy not found")
	// ErrConflict is returned when a write collides with an existing alias.
	ErrConflict = errors.New("pricing policy conflict")
	// ErrInvalidCatalog is returned when a catalog document cannot be decoded at all.
	ErrInvalidCatalog = errors.New("invalid policy catalog")
	// ErrUnavailable wraps every failure to obtain a snapshot.
	ErrUnavailable = errors.New("policy catalog unavailable")
)

// Source supplies a fresh snapshot of the policy catalog on every call.
type Source interface {
	Snapshot(ctx context.Context) ([]policy.PricingPolicy, error)
}

// Rejection describes a stored record that failed normalization. Index is the
// record position in its document or result set.
type Rejection struct {
	ID    string
	Index int
	Err   error
}

// RejectFunc observes records quarantined while building a snapshot.
type RejectFunc func(Rejection)

// StaticSource serves a fixed in-memory catalog.
type StaticSource []policy.PricingPolicy

// Snapshot returns a copy of the catalog.
func (s StaticSource) Snapshot(context.Context) ([]policy.PricingPolicy, error) {
	out := make([]policy.PricingPolicy, len(s))
	copy(out, s)
	return out, nil
}

// Load takes a snapshot, marking any failure with ErrUnavailable.
func Load(ctx context.Context, src Source) ([]policy.PricingPolicy, error) {
	policies, err := src.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policy catalog: %w: %w", ErrUnavailable, err)
	}
	return policies, nil
}

// Find looks up a single policy in a fresh snapshot.
func Find(ctx context.Context, src Source, id string) (policy.PricingPolicy, error) {
	policies, err := Load(ctx, src)
	if err != nil {
		return policy.PricingPolicy{}, err
	}
	for _, p := range policies {
		if p.ID == id {
			return p, nil
		}
	}
	return policy.PricingPolicy{}, ErrNotFound
}

// NormalizeAll converts raw records into canonical policies. A record that
// fails normalization is reported to onReject and kept as a quarantined
// placeholder, so it cannot take the rest of the catalog down with it.
func NormalizeAll(raws []policy.RawPolicy, onReject RejectFunc) []policy.PricingPolicy {
	out := make([]policy.PricingPolicy, 0, len(raws))
	for i, raw := range raws {
		if p, ok := normalizeRecord(raw, nil, i, onReject); ok {
			out = append(out, p)
		}
	}
	return out
}

// normalizeRecord normalizes raw unless cause already condemns it.
func normalizeRecord(raw policy.RawPolicy, cause error, index int, onReject RejectFunc) (policy.PricingPolicy, bool) {
	if cause == nil {
		p, err := policy.Normalize(raw)
		if err == nil {
			return p, true
		}
		cause = err
	}
	q, ok := policy.Quarantine(raw, cause)
	if onReject != nil {
		onReject(Rejection{ID: q.ID, Index: index, Err: cause})
	}
	return q, ok
}
