// v0
// internal/platform/platform.go
package platform

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotConnected is returned by adapters whose transport is not up yet.
var ErrNotConnected = errors.New("platform not connected")

// EntityState is the platform's view of one entity. The JSON shape follows the
// Home Assistant state object.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastUpdated time.Time      `json:"last_updated,omitempty"`
}

// Domain returns the part of the entity id before the first dot.
func (e EntityState) Domain() string {
	d, _, _ := strings.Cut(e.EntityID, ".")
	return d
}

// FriendlyName returns the friendly_name attribute, or "" when unset.
func (e EntityState) FriendlyName() string {
	if e.Attributes == nil {
		return ""
	}
	name, _ := e.Attributes["friendly_name"].(string)
	return name
}

// StateReader exposes current entity states.
type StateReader interface {
	State(entityID string) (EntityState, bool)
	States() []EntityState
}

// AreaDirectory lists the entities the platform assigns to an area or zone.
// A nil slice with a nil error means the platform knows nothing about tag.
type AreaDirectory interface {
	AreaEntities(ctx context.Context, tag string) ([]string, error)
}

// ServiceCall is one capability invocation.
type ServiceCall struct {
	Domain  string         `json:"domain"`
	Service string         `json:"service"`
	Target  []string       `json:"entity_id,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Name returns "domain.service".
func (c ServiceCall) Name() string { return c.Domain + "." + c.Service }

// ServiceCaller dispatches service calls to the platform.
type ServiceCaller interface {
	CallService(ctx context.Context, call ServiceCall) error
}

// Refresher is implemented by adapters that cache remote state between cycles.
type Refresher interface {
	Refresh(ctx context.Context) error
}
