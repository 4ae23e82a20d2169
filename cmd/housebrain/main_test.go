// v0
// cmd/housebrain/main_test.go
package main

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nrgchamp/housebrain/internal/store"
)

func TestInstancesCommandListsRecords(t *testing.T) {
	dir := t.TempDir()
	instances := filepath.Join(dir, "instances.yaml")
	s, err := store.Open(instances)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Save(store.Record{ID: "main-house", URL: "http://llm.local/decide", Sensors: []string{"binary_sensor.front_door"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	props := filepath.Join(dir, "housebrain.properties")
	if err := os.WriteFile(props, []byte("instances_path="+instances+"\n"), 0o644); err != nil {
		t.Fatalf("write properties: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"instances", "--properties", props})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "main-house") || !strings.Contains(out.String(), "structured") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestOnceCommandKeepsLogsOffStdout(t *testing.T) {
	prev := log.Writer()
	t.Cleanup(func() { log.SetOutput(prev) })
	hass := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	defer hass.Close()

	dir := t.TempDir()
	props := filepath.Join(dir, "housebrain.properties")
	body := strings.Join([]string{
		"instances_path=" + filepath.Join(dir, "instances.yaml"),
		"log_dir=" + filepath.Join(dir, "logs"),
		"platform_mode=hass",
		"hass_url=" + hass.URL,
	}, "\n") + "\n"
	if err := os.WriteFile(props, []byte(body), 0o644); err != nil {
		t.Fatalf("write properties: %v", err)
	}

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"once", "--properties", props})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil); rootCmd.SetErr(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var reports []map[string]any
	if err := json.Unmarshal(out.Bytes(), &reports); err != nil {
		t.Fatalf("stdout must hold only the JSON reports: %v\n%s", err, out.String())
	}
	if !strings.Contains(errOut.String(), "force_update_all") {
		t.Fatalf("expected logs on stderr, got:\n%s", errOut.String())
	}
}
