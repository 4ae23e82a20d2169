// v0
// internal/brain/helpers_test.go
package brain

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"nrgchamp/housebrain/internal/platform"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// house is a small fixture: an entryway with a door sensor and a light.
func house() *platform.Registry {
	reg := platform.NewRegistry()
	reg.Put(platform.EntityState{EntityID: "binary_sensor.front_door", State: "on",
		Attributes: map[string]any{"friendly_name": "Front Door"}})
	reg.Put(platform.EntityState{EntityID: "light.entryway_ceiling", State: "off",
		Attributes: map[string]any{"friendly_name": "Entryway Ceiling"}})
	reg.Put(platform.EntityState{EntityID: "sensor.living_room_temperature", State: "21.5",
		Attributes: map[string]any{"friendly_name": "Living Room Temperature", "unit_of_measurement": "°C"}})
	reg.Put(platform.EntityState{EntityID: "climate.living_room", State: "heat",
		Attributes: map[string]any{"friendly_name": "Living Room Thermostat"}})
	reg.SetArea("entryway", "binary_sensor.front_door", "light.entryway_ceiling")
	return reg
}

func chainResolver(reg *platform.Registry) *Resolver {
	return NewResolver(ChainStrategy{
		Primary:  RegistryStrategy{Areas: reg},
		Fallback: NameMatchStrategy{States: reg, Domains: DefaultSupportedDomains},
	}, discardLogger())
}

func entrywayMappings() Mappings {
	m, err := NewMappings(
		[]string{"binary_sensor.front_door"},
		map[string]string{"binary_sensor.front_door": "entryway"},
		map[string][]string{"entryway": {"light.turn_on"}},
	)
	if err != nil {
		panic(err)
	}
	return m
}

type stubDecider struct {
	mu    sync.Mutex
	calls int
	out   Outcome
	hook  func(ctx context.Context)
	snaps []Snapshot
}

func (s *stubDecider) Decide(ctx context.Context, snap Snapshot) Outcome {
	s.mu.Lock()
	s.calls++
	s.snaps = append(s.snaps, snap)
	hook := s.hook
	out := s.out
	s.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return out
}

func (s *stubDecider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingCaller struct {
	mu    sync.Mutex
	calls []platform.ServiceCall
	err   error
}

func (r *recordingCaller) CallService(_ context.Context, call platform.ServiceCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return r.err
}

func (r *recordingCaller) Calls() []platform.ServiceCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]platform.ServiceCall(nil), r.calls...)
}

type countingActuator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingActuator) Execute(context.Context, ValidatedAction) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return nil
}

func (c *countingActuator) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
