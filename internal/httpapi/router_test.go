// v0
// internal/httpapi/router_test.go
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nrgchamp/housebrain/internal/brain"
	"nrgchamp/housebrain/internal/metrics"
	"nrgchamp/housebrain/internal/store"
)

type fakeController struct {
	mappings brain.Mappings
	forced   []string
	lastCaps []string
	panicOn  string
}

func newFake() *fakeController {
	m, _ := brain.NewMappings([]string{"binary_sensor.front_door"},
		map[string]string{"binary_sensor.front_door": "entryway"},
		map[string][]string{"entryway": {"light.turn_on"}})
	return &fakeController{mappings: m}
}

func (f *fakeController) known(id string) error {
	if id != "main-house" {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}

func (f *fakeController) Status() []brain.LoopStats {
	return []brain.LoopStats{{InstanceID: "main-house", State: "idle", MappingVersion: f.mappings.Version}}
}

func (f *fakeController) Records() []store.Record {
	return []store.Record{{ID: "main-house", URL: "http://llm"}}
}

func (f *fakeController) Instance(id string) (store.Record, brain.Mappings, brain.LoopStats, error) {
	if err := f.known(id); err != nil {
		return store.Record{}, brain.Mappings{}, brain.LoopStats{}, err
	}
	return store.Record{ID: id}, f.mappings, brain.LoopStats{InstanceID: id}, nil
}

func (f *fakeController) ForceUpdate(_ context.Context, id string) ([]brain.CycleReport, error) {
	if f.panicOn != "" && id == f.panicOn {
		panic("boom")
	}
	if id != "" {
		if err := f.known(id); err != nil {
			return nil, err
		}
	}
	f.forced = append(f.forced, id)
	return []brain.CycleReport{{InstanceID: "main-house", Result: brain.ResultNone}}, nil
}

func (f *fakeController) UpdateLocationMapping(_ context.Context, id, sensor, zone string) (brain.Mappings, error) {
	if err := f.known(id); err != nil {
		return brain.Mappings{}, err
	}
	if !f.mappings.HasSensor(sensor) {
		return brain.Mappings{}, fmt.Errorf("%w: %s", brain.ErrUnknownSensor, sensor)
	}
	next := f.mappings.Clone()
	next.Version++
	next.Locations[sensor] = zone
	f.mappings = next
	return next, nil
}

func (f *fakeController) UpdateCapabilityMapping(_ context.Context, id, zone string, actions []string) (brain.Mappings, error) {
	if err := f.known(id); err != nil {
		return brain.Mappings{}, err
	}
	f.lastCaps = actions
	next := f.mappings.Clone()
	next.Version++
	next.Capabilities[zone] = actions
	f.mappings = next
	return next, nil
}

func (f *fakeController) Capabilities(_ context.Context, id, zone string) ([]string, []string, error) {
	if err := f.known(id); err != nil {
		return nil, nil, err
	}
	return []string{"light.turn_on"}, []string{"light.turn_off", "light.turn_on"}, nil
}

func newServer(t *testing.T, f *fakeController) (http.Handler, *bytes.Buffer) {
	t.Helper()
	var access bytes.Buffer
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(lg, f, metrics.New(), &access), &access
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	h.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	return rec
}

func TestHealthAndAccessLog(t *testing.T) {
	h, access := newServer(t, newFake())
	rec := do(h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing request id header")
	}
	if !strings.Contains(access.String(), "GET /health") {
		t.Fatalf("access log missing request: %q", access.String())
	}
}

func TestForceUpdate(t *testing.T) {
	f := newFake()
	h, _ := newServer(t, f)

	if rec := do(h, http.MethodPost, "/force-update", ""); rec.Code != http.StatusOK {
		t.Fatalf("all instances: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(h, http.MethodPost, "/force-update", `{"entry_id":"main-house"}`); rec.Code != http.StatusOK {
		t.Fatalf("by entry id: %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/force-update", `{"entry_id":"ghost"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown entry: %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/instances/main-house/force-update", ""); rec.Code != http.StatusOK {
		t.Fatalf("path form: %d", rec.Code)
	}
	if want := []string{"", "main-house", "main-house"}; fmt.Sprint(f.forced) != fmt.Sprint(want) {
		t.Fatalf("forced %v, want %v", f.forced, want)
	}
	if rec := do(h, http.MethodGet, "/force-update", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET must be rejected, got %d", rec.Code)
	}
}

func TestZoneMappingStatusCodes(t *testing.T) {
	h, _ := newServer(t, newFake())
	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"ok", "/instances/main-house/zone-mappings", `{"sensor_id":"binary_sensor.front_door","zone_id":"porch"}`, http.StatusOK},
		{"unknown sensor", "/instances/main-house/zone-mappings", `{"sensor_id":"sensor.ghost","zone_id":"porch"}`, http.StatusBadRequest},
		{"missing zone", "/instances/main-house/zone-mappings", `{"sensor_id":"binary_sensor.front_door"}`, http.StatusBadRequest},
		{"bad json", "/instances/main-house/zone-mappings", `{`, http.StatusBadRequest},
		{"unknown instance", "/instances/ghost/zone-mappings", `{"sensor_id":"binary_sensor.front_door","zone_id":"porch"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := do(h, http.MethodPost, tc.path, tc.body); rec.Code != tc.want {
				t.Fatalf("status %d, want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestActionMappingParsesCSV(t *testing.T) {
	f := newFake()
	h, _ := newServer(t, f)
	rec := do(h, http.MethodPost, "/instances/main-house/action-mappings", `{"zone_id":"entryway","actions":" light.turn_on, ,light.turn_off ,"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if fmt.Sprint(f.lastCaps) != "[light.turn_on light.turn_off]" {
		t.Fatalf("parsed actions: %v", f.lastCaps)
	}
	var view MappingsView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Version != 2 || len(view.Actions["entryway"]) != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestInstanceAndCapabilities(t *testing.T) {
	h, _ := newServer(t, newFake())

	rec := do(h, http.MethodGet, "/instances/main-house", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("instance: %d", rec.Code)
	}
	var inst InstanceView
	if err := json.Unmarshal(rec.Body.Bytes(), &inst); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inst.Mappings.ZoneMappings["binary_sensor.front_door"] != "entryway" {
		t.Fatalf("mappings missing: %+v", inst.Mappings)
	}

	rec = do(h, http.MethodGet, "/instances/main-house/zones/entryway/capabilities", "")
	var caps CapabilitiesView
	if err := json.Unmarshal(rec.Body.Bytes(), &caps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(caps.Configured) != 1 || len(caps.Resolved) != 1 || len(caps.Suggested) != 2 {
		t.Fatalf("capabilities: %+v", caps)
	}

	if rec := do(h, http.MethodGet, "/instances/ghost", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown instance: %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/nowhere", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route: %d", rec.Code)
	}
}

func TestStatusAndMetrics(t *testing.T) {
	h, _ := newServer(t, newFake())
	rec := do(h, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"instanceId":"main-house"`) {
		t.Fatalf("status: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(h, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `housebrain_http_requests_total{route="/status",status="200"} 1`) {
		t.Fatalf("metrics missing status route:\n%s", rec.Body.String())
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	f := newFake()
	f.panicOn = "main-house"
	h, _ := newServer(t, f)
	if rec := do(h, http.MethodPost, "/instances/main-house/force-update", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", rec.Code)
	}
}
