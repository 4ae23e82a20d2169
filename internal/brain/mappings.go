// v0
// internal/brain/mappings.go
package brain

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownSensor is returned when a mapping references a sensor that is not configured.
var ErrUnknownSensor = errors.New("unknown sensor")

// ErrInvalidMapping is returned for empty location tags or sensor ids.
var ErrInvalidMapping = errors.New("invalid mapping")

// Mappings is the per-instance configuration the loop works from. Values
// published by a MappingStore are never modified afterwards; use Clone to
// derive a new one.
type Mappings struct {
	Version      uint64
	Sensors      []string
	Locations    map[string]string
	Capabilities map[string][]string
}

// NewMappings builds a version 1 value and checks that every located sensor is configured.
func NewMappings(sensors []string, locations map[string]string, capabilities map[string][]string) (Mappings, error) {
	m := Mappings{
		Version:      1,
		Sensors:      append([]string(nil), sensors...),
		Locations:    make(map[string]string, len(locations)),
		Capabilities: make(map[string][]string, len(capabilities)),
	}
	for sensor, tag := range locations {
		m.Locations[sensor] = tag
	}
	for tag, caps := range capabilities {
		m.Capabilities[tag] = dedupe(caps)
	}
	if err := m.Validate(); err != nil {
		return Mappings{}, err
	}
	return m, nil
}

// Validate checks that every key of Locations is a configured sensor.
func (m Mappings) Validate() error {
	for sensor := range m.Locations {
		if !m.HasSensor(sensor) {
			return fmt.Errorf("%w: %s", ErrUnknownSensor, sensor)
		}
	}
	return nil
}

func (m Mappings) HasSensor(id string) bool {
	return slices.Contains(m.Sensors, id)
}

// Location returns the tag assigned to a sensor.
func (m Mappings) Location(sensor string) (string, bool) {
	tag, ok := m.Locations[sensor]
	if !ok || tag == "" {
		return "", false
	}
	return tag, true
}

// CapabilitiesFor returns a copy of the configured capabilities of tag.
func (m Mappings) CapabilitiesFor(tag string) []string {
	return append([]string(nil), m.Capabilities[tag]...)
}

// Clone returns a deep copy.
func (m Mappings) Clone() Mappings {
	out := Mappings{
		Version:      m.Version,
		Sensors:      append([]string(nil), m.Sensors...),
		Locations:    make(map[string]string, len(m.Locations)),
		Capabilities: make(map[string][]string, len(m.Capabilities)),
	}
	for k, v := range m.Locations {
		out.Locations[k] = v
	}
	for k, v := range m.Capabilities {
		out.Capabilities[k] = append([]string(nil), v...)
	}
	return out
}

// PersistFunc writes a complete Mappings value to durable storage.
type PersistFunc func(ctx context.Context, m Mappings) error

// MappingStore owns the mappings of one instance. Mutations are serialized,
// applied to a clone, persisted and only then published.
type MappingStore struct {
	writeMu sync.Mutex

	mu      sync.RWMutex
	current Mappings

	persist PersistFunc
}

// NewMappingStore takes ownership of initial. persist may be nil.
func NewMappingStore(initial Mappings, persist PersistFunc) *MappingStore {
	initial = initial.Clone()
	if initial.Version == 0 {
		initial.Version = 1
	}
	return &MappingStore{current: initial, persist: persist}
}

// Current returns the published value. Callers must not modify it.
func (s *MappingStore) Current() Mappings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// UpdateLocation assigns sensor to tag.
func (s *MappingStore) UpdateLocation(ctx context.Context, sensor, tag string) (Mappings, error) {
	sensor = strings.TrimSpace(sensor)
	tag = strings.TrimSpace(tag)
	if sensor == "" || tag == "" {
		return Mappings{}, fmt.Errorf("%w: sensor and location are required", ErrInvalidMapping)
	}
	return s.mutate(ctx, func(m *Mappings) error {
		if !m.HasSensor(sensor) {
			return fmt.Errorf("%w: %s", ErrUnknownSensor, sensor)
		}
		m.Locations[sensor] = tag
		return nil
	})
}

// UpdateCapabilities replaces the permitted capabilities of tag. An empty
// list removes the entry.
func (s *MappingStore) UpdateCapabilities(ctx context.Context, tag string, capabilities []string) (Mappings, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return Mappings{}, fmt.Errorf("%w: location is required", ErrInvalidMapping)
	}
	caps := dedupe(capabilities)
	return s.mutate(ctx, func(m *Mappings) error {
		if len(caps) == 0 {
			delete(m.Capabilities, tag)
			return nil
		}
		m.Capabilities[tag] = caps
		return nil
	})
}

func (s *MappingStore) mutate(ctx context.Context, fn func(m *Mappings) error) (Mappings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Current().Clone()
	if err := fn(&next); err != nil {
		return Mappings{}, err
	}
	next.Version++
	if s.persist != nil {
		if err := s.persist(ctx, next); err != nil {
			return Mappings{}, fmt.Errorf("persist mappings: %w", err)
		}
	}
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}

// ParseCapabilityCSV splits a comma separated list, trimming tokens and
// dropping empty ones.
func ParseCapabilityCSV(csv string) []string {
	var out []string
	for _, tok := range strings.Split(csv, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
