// v0
// internal/platform/registry.go
package platform

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Registry is an in-memory entity and area directory. It is safe for
// concurrent use and is what the MQTT bridge writes into.
type Registry struct {
	mu     sync.RWMutex
	states map[string]EntityState
	areas  map[string][]string
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		states: make(map[string]EntityState),
		areas:  make(map[string][]string),
		now:    time.Now,
	}
}

// Put stores a full entity state, replacing any previous value.
func (r *Registry) Put(st EntityState) {
	if st.EntityID == "" {
		return
	}
	if st.LastUpdated.IsZero() {
		st.LastUpdated = r.now()
	}
	st.Attributes = copyAttrs(st.Attributes)
	r.mu.Lock()
	r.states[st.EntityID] = st
	r.mu.Unlock()
}

// SetState updates only the state string of an entity, creating it when unknown.
func (r *Registry) SetState(entityID, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.states[entityID]
	st.EntityID = entityID
	st.State = state
	st.LastUpdated = r.now()
	r.states[entityID] = st
}

// SetAttribute updates a single attribute of an entity, creating it when unknown.
func (r *Registry) SetAttribute(entityID, key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.states[entityID]
	st.EntityID = entityID
	attrs := copyAttrs(st.Attributes)
	if attrs == nil {
		attrs = make(map[string]any)
	}
	attrs[key] = value
	st.Attributes = attrs
	r.states[entityID] = st
}

// Remove forgets an entity.
func (r *Registry) Remove(entityID string) {
	r.mu.Lock()
	delete(r.states, entityID)
	r.mu.Unlock()
}

// SetArea replaces the member list of an area.
func (r *Registry) SetArea(tag string, entityIDs ...string) {
	members := append([]string(nil), entityIDs...)
	r.mu.Lock()
	if len(members) == 0 {
		delete(r.areas, tag)
	} else {
		r.areas[tag] = members
	}
	r.mu.Unlock()
}

func (r *Registry) State(entityID string) (EntityState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[entityID]
	if ok {
		st.Attributes = copyAttrs(st.Attributes)
	}
	return st, ok
}

// States returns all entities ordered by id.
func (r *Registry) States() []EntityState {
	r.mu.RLock()
	out := make([]EntityState, 0, len(r.states))
	for _, st := range r.states {
		st.Attributes = copyAttrs(st.Attributes)
		out = append(out, st)
	}
	r.mu.RUnlock()
	sortStates(out)
	return out
}

func (r *Registry) AreaEntities(_ context.Context, tag string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.areas[tag]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), members...), nil
}

func sortStates(states []EntityState) {
	sort.Slice(states, func(i, j int) bool { return states[i].EntityID < states[j].EntityID })
}

func copyAttrs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
