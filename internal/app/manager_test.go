// v0
// internal/app/manager_test.go
package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"nrgchamp/housebrain/internal/brain"
	"nrgchamp/housebrain/internal/config"
	"nrgchamp/housebrain/internal/logging"
	"nrgchamp/housebrain/internal/metrics"
	"nrgchamp/housebrain/internal/platform"
	"nrgchamp/housebrain/internal/store"
)

type recordingCaller struct {
	mu    sync.Mutex
	calls []platform.ServiceCall
}

func (r *recordingCaller) CallService(_ context.Context, call platform.ServiceCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return nil
}

func (r *recordingCaller) Calls() []platform.ServiceCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]platform.ServiceCall(nil), r.calls...)
}

type captureJournal struct {
	mu      sync.Mutex
	reports []brain.CycleReport
}

func (c *captureJournal) Record(r brain.CycleReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

func (c *captureJournal) Close(context.Context) error { return nil }

func (c *captureJournal) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}

func house() *platform.Registry {
	reg := platform.NewRegistry()
	reg.Put(platform.EntityState{EntityID: "binary_sensor.front_door", State: "on", Attributes: map[string]any{"friendly_name": "Front door"}})
	reg.Put(platform.EntityState{EntityID: "light.entryway_ceiling", State: "off", Attributes: map[string]any{"friendly_name": "Entryway ceiling"}})
	reg.Put(platform.EntityState{EntityID: "sensor.attic_temperature", State: "31.0"})
	reg.SetArea("entryway", "binary_sensor.front_door", "light.entryway_ceiling")
	return reg
}

// llmServer answers every request with body and counts requests.
func llmServer(t *testing.T, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

type fixture struct {
	cfg     config.Config
	store   *store.FileStore
	caller  *recordingCaller
	journal *captureJournal
	metrics *metrics.Metrics
	manager *Manager
}

func newFixture(t *testing.T, llmURL string, extra ...store.Record) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.InstancesPath = filepath.Join(t.TempDir(), "instances.yaml")
	s, err := store.Open(cfg.InstancesPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	records := append([]store.Record{{
		ID:             "main-house",
		URL:            llmURL,
		Sensors:        []string{"binary_sensor.front_door"},
		ZoneMappings:   map[string]string{"binary_sensor.front_door": "entryway"},
		ActionMappings: map[string][]string{"entryway": {"light.turn_on"}},
	}}, extra...)
	for _, rec := range records {
		if err := s.Save(rec); err != nil {
			t.Fatalf("save %s: %v", rec.ID, err)
		}
	}
	f := &fixture{cfg: cfg, store: s, caller: &recordingCaller{}, journal: &captureJournal{}, metrics: metrics.New()}
	f.manager, err = NewManager(cfg, ManagerDeps{
		Store:    s,
		Platform: RegistryPlatform(house(), f.caller),
		Metrics:  f.metrics,
		Journal:  f.journal,
	}, logging.Discard())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	t.Cleanup(f.manager.Close)
	return f
}

func attic(url string) store.Record {
	return store.Record{
		ID:           "attic",
		URL:          url,
		Sensors:      []string{"sensor.attic_temperature"},
		ZoneMappings: map[string]string{"sensor.attic_temperature": "attic"},
	}
}

const turnOn = `{"zone":"entryway","action":"light.turn_on","parameters":{"brightness":80}}`

func TestForceUpdateExecutesAndReports(t *testing.T) {
	srv, _ := llmServer(t, turnOn)
	f := newFixture(t, srv.URL)

	reports, err := f.manager.ForceUpdate(context.Background(), "main-house")
	if err != nil {
		t.Fatalf("force update: %v", err)
	}
	if len(reports) != 1 || reports[0].Result != brain.ResultExecuted {
		t.Fatalf("unexpected reports %+v", reports)
	}
	calls := f.caller.Calls()
	if len(calls) != 1 || calls[0].Name() != "light.turn_on" {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if len(calls[0].Target) != 1 || calls[0].Target[0] != "light.entryway_ceiling" {
		t.Fatalf("target: %v", calls[0].Target)
	}
	if f.journal.Len() != 1 {
		t.Fatalf("journal entries: %d", f.journal.Len())
	}
	if n, err := testutil.GatherAndCount(f.metrics.Registry(), "housebrain_actions_executed_total"); err != nil || n != 1 {
		t.Fatalf("actions metric series: %d %v", n, err)
	}
}

func TestForceUpdateAllRunsEveryInstance(t *testing.T) {
	srv, hits := llmServer(t, `{}`)
	f := newFixture(t, srv.URL, attic(srv.URL))

	reports, err := f.manager.ForceUpdate(context.Background(), "")
	if err != nil {
		t.Fatalf("force update: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected two reports, got %d", len(reports))
	}
	for _, rep := range reports {
		if rep.Result != brain.ResultNone {
			t.Fatalf("%s: result %s", rep.InstanceID, rep.Result)
		}
	}
	if hits.Load() != 2 {
		t.Fatalf("llm hits: %d", hits.Load())
	}
	if len(f.caller.Calls()) != 0 {
		t.Fatalf("no decision must not execute")
	}
}

func TestUnknownInstance(t *testing.T) {
	srv, _ := llmServer(t, `{}`)
	f := newFixture(t, srv.URL)
	_, err := f.manager.ForceUpdate(context.Background(), "ghost")
	if !errors.Is(err, ErrUnknownInstance) || !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrUnknownInstance, got %v", err)
	}
	if _, err := f.manager.UpdateLocationMapping(context.Background(), "ghost", "a", "b"); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("mapping on unknown instance: %v", err)
	}
}

func TestMappingChangesArePersisted(t *testing.T) {
	srv, _ := llmServer(t, `{}`)
	f := newFixture(t, srv.URL)
	ctx := context.Background()

	m, err := f.manager.UpdateLocationMapping(ctx, "main-house", "binary_sensor.front_door", "porch")
	if err != nil {
		t.Fatalf("update location: %v", err)
	}
	if m.Version != 2 {
		t.Fatalf("version: %d", m.Version)
	}
	if _, err := f.manager.UpdateLocationMapping(ctx, "main-house", "sensor.ghost", "porch"); !errors.Is(err, brain.ErrUnknownSensor) {
		t.Fatalf("expected ErrUnknownSensor, got %v", err)
	}
	if _, err := f.manager.UpdateCapabilityMapping(ctx, "main-house", "porch", []string{"light.turn_on", "light.turn_off"}); err != nil {
		t.Fatalf("update capabilities: %v", err)
	}

	reopened, err := store.Open(f.cfg.InstancesPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rec, err := reopened.Get("main-house")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.ZoneMappings["binary_sensor.front_door"] != "porch" {
		t.Fatalf("zone mapping not persisted: %+v", rec.ZoneMappings)
	}
	if strings.Join(rec.ActionMappings["porch"], ",") != "light.turn_on,light.turn_off" {
		t.Fatalf("action mapping not persisted: %+v", rec.ActionMappings)
	}
	if rec.URL != srv.URL {
		t.Fatalf("unrelated fields lost: %+v", rec)
	}
}

func TestCapabilitiesResolvedAndSuggested(t *testing.T) {
	srv, _ := llmServer(t, `{}`)
	f := newFixture(t, srv.URL)
	resolved, suggested, err := f.manager.Capabilities(context.Background(), "main-house", "entryway")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if strings.Join(resolved, ",") != "light.turn_on" {
		t.Fatalf("resolved: %v", resolved)
	}
	found := false
	for _, s := range suggested {
		if s == "light.turn_off" {
			found = true
		}
	}
	if !found {
		t.Fatalf("suggestions should cover light services: %v", suggested)
	}
}

func TestStatusListsInstancesInOrder(t *testing.T) {
	srv, _ := llmServer(t, `{}`)
	f := newFixture(t, srv.URL, attic(srv.URL))
	stats := f.manager.Status()
	if len(stats) != 2 || stats[0].InstanceID != "attic" || stats[1].InstanceID != "main-house" {
		t.Fatalf("status: %+v", stats)
	}
	if stats[1].MappingVersion != 1 {
		t.Fatalf("initial mapping version: %d", stats[1].MappingVersion)
	}
}
