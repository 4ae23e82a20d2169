// v0
// internal/brain/snapshot.go
package brain

import (
	"context"
	"log/slog"
	"strings"

	"nrgchamp/housebrain/internal/platform"
)

const binarySensorPrefix = "binary_sensor."

var truthyTokens = map[string]struct{}{
	"on": {}, "true": {}, "yes": {}, "open": {}, "detected": {}, "home": {},
}

// IsTruthy reports whether raw belongs to the boolean-sensor truthy vocabulary.
func IsTruthy(raw string) bool {
	_, ok := truthyTokens[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// NormalizeState maps binary sensor states to bool and passes others through.
func NormalizeState(entityID, raw string) any {
	if strings.HasPrefix(entityID, binarySensorPrefix) {
		return IsTruthy(raw)
	}
	return raw
}

// SnapshotBuilder assembles the observations of one cycle.
type SnapshotBuilder struct {
	states   platform.StateReader
	resolver *Resolver
	lg       *slog.Logger
}

func NewSnapshotBuilder(states platform.StateReader, resolver *Resolver, lg *slog.Logger) *SnapshotBuilder {
	if lg == nil {
		lg = slog.Default()
	}
	return &SnapshotBuilder{states: states, resolver: resolver, lg: lg.With("component", "snapshot")}
}

// Build reads every configured sensor in order. Sensors without a state or a
// location are skipped with a warning. Capabilities are resolved once per
// location per call.
func (b *SnapshotBuilder) Build(ctx context.Context, m Mappings) Snapshot {
	resolved := make(map[string][]string)
	obs := make([]Observation, 0, len(m.Sensors))
	for _, id := range m.Sensors {
		st, ok := b.states.State(id)
		if !ok {
			b.lg.Warn("sensor_missing", "sensor", id)
			continue
		}
		tag, ok := m.Location(id)
		if !ok {
			b.lg.Warn("sensor_unmapped", "sensor", id)
			continue
		}
		caps, ok := resolved[tag]
		if !ok {
			caps = b.resolver.Resolve(ctx, tag, m.Capabilities[tag])
			resolved[tag] = caps
		}
		name := st.FriendlyName()
		if name == "" {
			name = id
		}
		attrs := st.Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		obs = append(obs, Observation{
			EntityID:     id,
			Name:         name,
			State:        NormalizeState(id, st.State),
			Attributes:   attrs,
			Location:     tag,
			Capabilities: append([]string{}, caps...),
		})
	}
	return newSnapshot(obs)
}
