// v0
// internal/httpapi/handlers.go
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"nrgchamp/housebrain/internal/brain"
	"nrgchamp/housebrain/internal/store"
)

const maxBodyBytes = 64 << 10

type api struct {
	ctrl Controller
	lg   *slog.Logger
}

// MappingsView is the JSON form of brain.Mappings.
type MappingsView struct {
	Version      uint64              `json:"version"`
	Sensors      []string            `json:"sensors"`
	ZoneMappings map[string]string   `json:"zone_mappings"`
	Actions      map[string][]string `json:"action_mappings"`
}

func viewOf(m brain.Mappings) MappingsView {
	v := MappingsView{Version: m.Version, Sensors: m.Sensors, ZoneMappings: m.Locations, Actions: m.Capabilities}
	if v.Sensors == nil {
		v.Sensors = []string{}
	}
	if v.ZoneMappings == nil {
		v.ZoneMappings = map[string]string{}
	}
	if v.Actions == nil {
		v.Actions = map[string][]string{}
	}
	return v
}

// InstanceView is returned by GET /instances/{id}.
type InstanceView struct {
	Record   store.Record    `json:"record"`
	Mappings MappingsView    `json:"mappings"`
	Stats    brain.LoopStats `json:"stats"`
}

// CapabilitiesView is returned by the zone capabilities endpoint.
type CapabilitiesView struct {
	Zone       string   `json:"zone"`
	Configured []string `json:"configured"`
	Resolved   []string `json:"resolved"`
	Suggested  []string `json:"suggested"`
}

type forceUpdateRequest struct {
	EntryID string `json:"entry_id"`
}

type zoneMappingRequest struct {
	SensorID string `json:"sensor_id"`
	ZoneID   string `json:"zone_id"`
}

type actionMappingRequest struct {
	ZoneID  string `json:"zone_id"`
	Actions string `json:"actions"`
}

func (a *api) status(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.ctrl.Status())
}

func (a *api) listInstances(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.ctrl.Records())
}

func (a *api) getInstance(w http.ResponseWriter, r *http.Request) {
	rec, m, stats, err := a.ctrl.Instance(mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, InstanceView{Record: rec, Mappings: viewOf(m), Stats: stats})
}

func (a *api) forceUpdate(w http.ResponseWriter, r *http.Request) {
	var req forceUpdateRequest
	if err := decodeOptional(r, &req); err != nil {
		a.writeText(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	a.runForceUpdate(w, r, strings.TrimSpace(req.EntryID))
}

func (a *api) forceUpdateInstance(w http.ResponseWriter, r *http.Request) {
	a.runForceUpdate(w, r, mux.Vars(r)["id"])
}

func (a *api) runForceUpdate(w http.ResponseWriter, r *http.Request, id string) {
	reports, err := a.ctrl.ForceUpdate(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, reports)
}

func (a *api) updateZoneMapping(w http.ResponseWriter, r *http.Request) {
	var req zoneMappingRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeText(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.SensorID) == "" || strings.TrimSpace(req.ZoneID) == "" {
		a.writeText(w, http.StatusBadRequest, "sensor_id and zone_id are required")
		return
	}
	m, err := a.ctrl.UpdateLocationMapping(r.Context(), mux.Vars(r)["id"], strings.TrimSpace(req.SensorID), strings.TrimSpace(req.ZoneID))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, viewOf(m))
}

func (a *api) updateActionMapping(w http.ResponseWriter, r *http.Request) {
	var req actionMappingRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeText(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ZoneID) == "" {
		a.writeText(w, http.StatusBadRequest, "zone_id is required")
		return
	}
	m, err := a.ctrl.UpdateCapabilityMapping(r.Context(), mux.Vars(r)["id"], strings.TrimSpace(req.ZoneID), brain.ParseCapabilityCSV(req.Actions))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, viewOf(m))
}

func (a *api) capabilities(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	_, m, _, err := a.ctrl.Instance(vars["id"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	resolved, suggested, err := a.ctrl.Capabilities(r.Context(), vars["id"], vars["zone"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	view := CapabilitiesView{
		Zone:       vars["zone"],
		Configured: append([]string{}, m.CapabilitiesFor(vars["zone"])...),
		Resolved:   append([]string{}, resolved...),
		Suggested:  append([]string{}, suggested...),
	}
	a.writeJSON(w, http.StatusOK, view)
}

// statusFor maps sentinel errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, brain.ErrUnknownSensor), errors.Is(err, brain.ErrInvalidMapping), errors.Is(err, store.ErrInvalidRecord):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.lg.Error("request_failed", slog.Any("err", err))
	}
	a.writeText(w, status, err.Error())
}

func (a *api) writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		a.lg.Error("write_response_failed", slog.Any("err", err))
	}
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.lg.Error("write_response_failed", slog.Any("err", err))
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, v any) error {
	if err := decodeBody(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
