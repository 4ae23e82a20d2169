// v0
// internal/app/manager.go
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nrgchamp/housebrain/internal/brain"
	"nrgchamp/housebrain/internal/breaker"
	"nrgchamp/housebrain/internal/config"
	"nrgchamp/housebrain/internal/journal"
	"nrgchamp/housebrain/internal/metrics"
	"nrgchamp/housebrain/internal/store"
)

// ErrUnknownInstance is returned for ids with no loaded instance. It wraps
// store.ErrNotFound.
var ErrUnknownInstance = fmt.Errorf("unknown instance: %w", store.ErrNotFound)

// ManagerDeps are the shared collaborators of every instance.
type ManagerDeps struct {
	Store    *store.FileStore
	Platform *Platform
	Metrics  *metrics.Metrics
	Journal  journal.Journal
	// HTTPClient is used for reasoning endpoints; a default is built when nil.
	HTTPClient *http.Client
	// CustomAction runs actions outside the supported platform domains.
	CustomAction brain.CustomActionHook
}

type instance struct {
	loop     *brain.Loop
	resolver *brain.Resolver
}

// Manager owns one decision loop per persisted instance record.
type Manager struct {
	cfg  config.Config
	deps ManagerDeps
	lg   *slog.Logger

	mu        sync.RWMutex
	instances map[string]*instance
	started   bool
}

// NewManager builds a loop for every record in deps.Store. Loops are not
// started.
func NewManager(cfg config.Config, deps ManagerDeps, lg *slog.Logger) (*Manager, error) {
	if deps.Store == nil || deps.Platform == nil {
		return nil, fmt.Errorf("manager requires a store and a platform")
	}
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}
	if lg == nil {
		lg = slog.Default()
	}
	m := &Manager{
		cfg:       cfg,
		deps:      deps,
		lg:        lg.With("component", "manager"),
		instances: make(map[string]*instance),
	}
	for _, rec := range deps.Store.List() {
		inst, err := m.build(rec, lg)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", rec.ID, err)
		}
		m.instances[rec.ID] = inst
	}
	m.lg.Info("instances_loaded", "count", len(m.instances), "path", deps.Store.Path())
	return m, nil
}

func (m *Manager) build(rec store.Record, lg *slog.Logger) (*instance, error) {
	mappings, err := brain.NewMappings(rec.Sensors, rec.ZoneMappings, rec.ActionMappings)
	if err != nil {
		return nil, err
	}
	dialect, err := brain.ParseDialect(rec.Dialect)
	if err != nil {
		return nil, err
	}
	ilg := lg.With("instance", rec.ID)
	plat := m.deps.Platform

	strategy := brain.ChainStrategy{
		Primary:  brain.RegistryStrategy{Areas: plat.Areas},
		Fallback: brain.NameMatchStrategy{States: plat.States, Domains: brain.DefaultSupportedDomains},
		Logger:   ilg,
	}
	resolver := brain.NewResolver(strategy, ilg)

	brk := newBreaker("llm:"+rec.ID, m.cfg.Breaker, m.deps.Metrics, ilg, nil)
	client := brain.NewDecisionClient(brain.ClientConfig{
		URL:     rec.URL,
		Dialect: dialect,
		Model:   rec.Model,
		Timeout: m.cfg.LLMTimeout,
	}, breaker.NewHTTPClient(m.deps.HTTPClient, brk), ilg)

	loop := brain.NewLoop(rec.ID, time.Duration(rec.PollingInterval)*time.Second, brain.LoopDeps{
		Builder:   brain.NewSnapshotBuilder(plat.States, resolver, ilg),
		Decider:   client,
		Validator: brain.NewValidator(resolver, ilg),
		Actuator:  brain.NewExecutor(plat.Caller, resolver, m.deps.CustomAction, ilg),
		Mappings:  brain.NewMappingStore(mappings, m.persister(rec.ID)),
		Refresher: plat.Refresher,
		OnCycle:   m.onCycle,
	}, lg)
	return &instance{loop: loop, resolver: resolver}, nil
}

// persister writes mapping changes back into the instance record. The store
// re-reads the record so unrelated fields are preserved.
func (m *Manager) persister(id string) brain.PersistFunc {
	return func(_ context.Context, next brain.Mappings) error {
		rec, err := m.deps.Store.Get(id)
		if err != nil {
			return err
		}
		rec.Sensors = next.Sensors
		rec.ZoneMappings = next.Locations
		rec.ActionMappings = next.Capabilities
		return m.deps.Store.Save(rec)
	}
}

func (m *Manager) onCycle(rep brain.CycleReport) {
	m.deps.Metrics.ObserveCycle(rep)
	m.deps.Journal.Record(rep)
}

func (m *Manager) lookup(id string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	return inst, nil
}

// IDs returns the loaded instance ids in order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start launches every loop's ticker.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	for _, inst := range m.instances {
		inst.loop.Start(ctx)
	}
}

// Close stops all loops and waits for in-flight cycles.
func (m *Manager) Close() {
	m.mu.RLock()
	loops := make([]*brain.Loop, 0, len(m.instances))
	for _, inst := range m.instances {
		loops = append(loops, inst.loop)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, l := range loops {
		wg.Add(1)
		go func(l *brain.Loop) {
			defer wg.Done()
			l.Close()
		}(l)
	}
	wg.Wait()
}

// Status returns per-instance stats ordered by id.
func (m *Manager) Status() []brain.LoopStats {
	ids := m.IDs()
	out := make([]brain.LoopStats, 0, len(ids))
	for _, id := range ids {
		if inst, err := m.lookup(id); err == nil {
			out = append(out, inst.loop.Stats())
		}
	}
	return out
}

// Records returns the persisted instance records.
func (m *Manager) Records() []store.Record {
	return m.deps.Store.List()
}

// Instance returns the record, current mappings and stats of id.
func (m *Manager) Instance(id string) (store.Record, brain.Mappings, brain.LoopStats, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return store.Record{}, brain.Mappings{}, brain.LoopStats{}, err
	}
	rec, err := m.deps.Store.Get(id)
	if err != nil {
		return store.Record{}, brain.Mappings{}, brain.LoopStats{}, err
	}
	return rec, inst.loop.Mappings(), inst.loop.Stats(), nil
}

// ForceUpdate runs one cycle on id, or concurrently on every instance when
// id is empty.
func (m *Manager) ForceUpdate(ctx context.Context, id string) ([]brain.CycleReport, error) {
	if id != "" {
		inst, err := m.lookup(id)
		if err != nil {
			return nil, err
		}
		return []brain.CycleReport{inst.loop.Update(ctx)}, nil
	}
	ids := m.IDs()
	reports := make([]brain.CycleReport, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i := i
		inst, err := m.lookup(id)
		if err != nil {
			continue
		}
		g.Go(func() error {
			reports[i] = inst.loop.Update(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	m.lg.Info("force_update_all", "instances", len(ids))
	return reports, nil
}

func (m *Manager) UpdateLocationMapping(ctx context.Context, id, sensor, zone string) (brain.Mappings, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return brain.Mappings{}, err
	}
	return inst.loop.UpdateLocationMapping(ctx, sensor, zone)
}

func (m *Manager) UpdateCapabilityMapping(ctx context.Context, id, zone string, actions []string) (brain.Mappings, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return brain.Mappings{}, err
	}
	return inst.loop.UpdateCapabilityMapping(ctx, zone, actions)
}

// Capabilities returns the currently resolved set for zone and the
// suggestions for configuring it.
func (m *Manager) Capabilities(ctx context.Context, id, zone string) ([]string, []string, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	configured := inst.loop.Mappings().CapabilitiesFor(zone)
	return inst.resolver.Resolve(ctx, zone, configured), inst.resolver.Suggest(ctx, zone), nil
}
