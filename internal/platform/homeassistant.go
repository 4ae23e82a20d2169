// v0
// internal/platform/homeassistant.go
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPDoer is satisfied by *http.Client and *breaker.HTTPClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HomeAssistant talks to the Home Assistant REST API. States are cached and
// replaced on every Refresh; area lookups and service calls are live.
type HomeAssistant struct {
	baseURL string
	token   string
	client  HTTPDoer
	lg      *slog.Logger

	mu        sync.RWMutex
	states    map[string]EntityState
	refreshed time.Time
}

func NewHomeAssistant(baseURL, token string, client HTTPDoer, lg *slog.Logger) *HomeAssistant {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if lg == nil {
		lg = slog.Default()
	}
	return &HomeAssistant{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		lg:      lg.With("component", "hass"),
		states:  make(map[string]EntityState),
	}
}

// Refresh reloads every entity state from GET /api/states.
func (h *HomeAssistant) Refresh(ctx context.Context) error {
	var list []EntityState
	if err := h.do(ctx, http.MethodGet, "/api/states", nil, &list); err != nil {
		return fmt.Errorf("refresh states: %w", err)
	}
	next := make(map[string]EntityState, len(list))
	for _, st := range list {
		next[st.EntityID] = st
	}
	h.mu.Lock()
	h.states = next
	h.refreshed = time.Now()
	h.mu.Unlock()
	h.lg.Debug("states_refreshed", "entities", len(next))
	return nil
}

// RefreshedAt returns when the cache was last replaced.
func (h *HomeAssistant) RefreshedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.refreshed
}

func (h *HomeAssistant) State(entityID string) (EntityState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.states[entityID]
	return st, ok
}

func (h *HomeAssistant) States() []EntityState {
	h.mu.RLock()
	out := make([]EntityState, 0, len(h.states))
	for _, st := range h.states {
		out = append(out, st)
	}
	h.mu.RUnlock()
	sortStates(out)
	return out
}

// AreaEntities renders area_entities(tag) through POST /api/template.
func (h *HomeAssistant) AreaEntities(ctx context.Context, tag string) ([]string, error) {
	tpl, err := json.Marshal(tag)
	if err != nil {
		return nil, err
	}
	body := map[string]string{"template": "{{ area_entities(" + string(tpl) + ") | tojson }}"}
	raw, err := h.raw(ctx, http.MethodPost, "/api/template", body)
	if err != nil {
		return nil, fmt.Errorf("area %s: %w", tag, err)
	}
	var ids []string
	if err := json.Unmarshal(bytes.TrimSpace(raw), &ids); err != nil {
		return nil, fmt.Errorf("area %s: decode template output: %w", tag, err)
	}
	return ids, nil
}

// CallService posts to /api/services/<domain>/<service> with entity_id merged
// into the service data.
func (h *HomeAssistant) CallService(ctx context.Context, call ServiceCall) error {
	body := make(map[string]any, len(call.Data)+1)
	for k, v := range call.Data {
		body[k] = v
	}
	if len(call.Target) == 1 {
		body["entity_id"] = call.Target[0]
	} else if len(call.Target) > 1 {
		body["entity_id"] = call.Target
	}
	path := "/api/services/" + call.Domain + "/" + call.Service
	if _, err := h.raw(ctx, http.MethodPost, path, body); err != nil {
		return err
	}
	return nil
}

func (h *HomeAssistant) do(ctx context.Context, method, path string, in, out any) error {
	raw, err := h.raw(ctx, method, path, in)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (h *HomeAssistant) raw(ctx context.Context, method, path string, in any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return raw, nil
}
