// v0
// internal/app/app_test.go
package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nrgchamp/housebrain/internal/config"
	"nrgchamp/housebrain/internal/logging"
	"nrgchamp/housebrain/internal/store"
)

func newApp(t *testing.T, llmURL string) (*Application, *recordingCaller) {
	t.Helper()
	cfg := config.Defaults()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.InstancesPath = filepath.Join(t.TempDir(), "instances.yaml")
	s, err := store.Open(cfg.InstancesPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.Save(store.Record{
		ID:             "main-house",
		URL:            llmURL,
		Sensors:        []string{"binary_sensor.front_door"},
		ZoneMappings:   map[string]string{"binary_sensor.front_door": "entryway"},
		ActionMappings: map[string][]string{"entryway": {"light.turn_on"}},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	caller := &recordingCaller{}
	a, err := New(context.Background(), cfg, Options{
		Logger:   logging.Discard(),
		Platform: RegistryPlatform(house(), caller),
		Journal:  &captureJournal{},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return a, caller
}

func TestApplicationServesControlSurface(t *testing.T) {
	srv, _ := llmServer(t, turnOn)
	a, caller := newApp(t, srv.URL)
	defer func() {
		if err := a.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/force-update", strings.NewReader(`{"entry_id":"main-house"}`)))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"result":"executed"`) {
		t.Fatalf("force update: %d %s", rec.Code, rec.Body.String())
	}
	if len(caller.Calls()) != 1 {
		t.Fatalf("expected one service call, got %d", len(caller.Calls()))
	}

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instances/ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown instance: %d", rec.Code)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	srv, _ := llmServer(t, `{}`)
	a, _ := newApp(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.Manager().Status()[0].Cycles == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("initial cycle did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
