package pricing

import (
	"errors"
	"fmt"

	"github.com/noah-isme/backend-bizadmin/internal/policy"
)

var (
	// ErrConfiguration indicates a policy whose tiers do not price the requested quantity.
	ErrConfiguration = errors.New("pricing policy configuration error")
	// ErrInvalidInput is shared with the policy package so callers can match either layer.
	ErrInvalidInput = policy.ErrInvalidInput
)

// ConfigurationError reports the uncovered quantity of a tiered policy.
type ConfigurationError struct {
	PolicyID    string
	CoveredUpTo int
	Quantity    int
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e == nil {
		return ""
	}
	if e.CoveredUpTo < 1 {
		return fmt.Sprintf("policy %s: no tier prices unit 1, requested quantity %d", e.PolicyID, e.Quantity)
	}
	return fmt.Sprintf("policy %s: tiers cover units 1-%d only, requested quantity %d", e.PolicyID, e.CoveredUpTo, e.Quantity)
}

// Unwrap allows errors.Is(err, ErrConfiguration).
func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// InputError reports a rejected calculation argument.
type InputError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *InputError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Unwrap allows errors.Is(err, ErrInvalidInput).
func (e *InputError) Unwrap() error { return ErrInvalidInput }
