// v0
// internal/brain/validator.go
package brain

import (
	"context"
	"log/slog"
	"slices"
)

// Validator checks decisions against the capability set resolved at the
// moment of validation.
type Validator struct {
	resolver *Resolver
	lg       *slog.Logger
}

func NewValidator(resolver *Resolver, lg *slog.Logger) *Validator {
	if lg == nil {
		lg = slog.Default()
	}
	return &Validator{resolver: resolver, lg: lg.With("component", "validator")}
}

// Validate returns a *RejectionError (matching ErrRejected) when the decision
// is incomplete or names a capability outside the freshly resolved set.
func (v *Validator) Validate(ctx context.Context, d Decision, m Mappings) (ValidatedAction, error) {
	if d.Location == "" || d.Capability == "" {
		return ValidatedAction{}, &RejectionError{
			Location:   d.Location,
			Capability: d.Capability,
			Reason:     "location and action are required",
		}
	}
	valid := v.resolver.Resolve(ctx, d.Location, m.Capabilities[d.Location])
	if !slices.Contains(valid, d.Capability) {
		return ValidatedAction{}, &RejectionError{
			Location:   d.Location,
			Capability: d.Capability,
			Valid:      valid,
			Reason:     "action not available",
		}
	}
	v.lg.Debug("decision_validated", "zone", d.Location, "action", d.Capability)
	return ValidatedAction{Decision: d, Valid: valid}, nil
}
