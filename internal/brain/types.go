// v0
// internal/brain/types.go
package brain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Observation is one sensor reading tagged with its location and the
// capabilities currently realizable there.
type Observation struct {
	EntityID     string         `json:"entity_id"`
	Name         string         `json:"name"`
	State        any            `json:"state"`
	Attributes   map[string]any `json:"attributes"`
	Location     string         `json:"zone"`
	Capabilities []string       `json:"available_actions"`
}

// Snapshot is the ordered, read-only set of observations of one cycle.
type Snapshot struct {
	obs []Observation
}

func newSnapshot(obs []Observation) Snapshot {
	return Snapshot{obs: obs}
}

func (s Snapshot) Len() int { return len(s.obs) }

func (s Snapshot) Empty() bool { return len(s.obs) == 0 }

// At returns the i-th observation. The returned slices and maps are shared
// with the snapshot and must not be modified.
func (s Snapshot) At(i int) Observation { return s.obs[i] }

// Observations returns a copy of the observation list.
func (s Snapshot) Observations() []Observation {
	return append([]Observation(nil), s.obs...)
}

// MarshalJSON renders the snapshot as a JSON array, never null.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s.obs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.obs)
}

// Decision is the parsed, not yet validated answer of the reasoning endpoint.
type Decision struct {
	Location   string         `json:"zone"`
	Capability string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Domain splits a dotted capability. ok is false for custom actions.
func (d Decision) Domain() (domain, service string, ok bool) {
	return splitCapability(d.Capability)
}

func splitCapability(id string) (domain, service string, ok bool) {
	domain, service, ok = strings.Cut(id, ".")
	if !ok || domain == "" || service == "" {
		return "", "", false
	}
	return domain, service, true
}

// OutcomeKind tags the result of a decision request.
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeDecision
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNone:
		return "none"
	case OutcomeDecision:
		return "decision"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

func (k OutcomeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Outcome is exactly one of: no decision, a decision, or a failure with a reason.
type Outcome struct {
	Kind     OutcomeKind
	Decision Decision
	Reason   string
}

func noDecision(reason string) Outcome { return Outcome{Kind: OutcomeNone, Reason: reason} }

func failure(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeFailure, Reason: fmt.Sprintf(format, args...)}
}

func decided(d Decision) Outcome { return Outcome{Kind: OutcomeDecision, Decision: d} }

// ValidatedAction is a decision confirmed against the capability set resolved
// at validation time.
type ValidatedAction struct {
	Decision Decision
	Valid    []string
}

// ErrRejected matches every RejectionError.
var ErrRejected = errors.New("action rejected")

// RejectionError describes why a decision was not accepted.
type RejectionError struct {
	Location   string
	Capability string
	Valid      []string
	Reason     string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("action %q rejected for %q: %s (valid: [%s])",
		e.Capability, e.Location, e.Reason, strings.Join(e.Valid, ", "))
}

func (e *RejectionError) Is(target error) bool { return target == ErrRejected }
