// v0
// internal/httpapi/router.go
package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"nrgchamp/housebrain/internal/brain"
	"nrgchamp/housebrain/internal/logging"
	"nrgchamp/housebrain/internal/metrics"
	"nrgchamp/housebrain/internal/store"
)

// Controller is the subset of the instance manager exposed over HTTP.
// Unknown instance ids are reported with errors wrapping store.ErrNotFound.
type Controller interface {
	Status() []brain.LoopStats
	Records() []store.Record
	Instance(id string) (store.Record, brain.Mappings, brain.LoopStats, error)
	// ForceUpdate runs one cycle on id, or on every instance when id is empty.
	ForceUpdate(ctx context.Context, id string) ([]brain.CycleReport, error)
	UpdateLocationMapping(ctx context.Context, id, sensor, zone string) (brain.Mappings, error)
	UpdateCapabilityMapping(ctx context.Context, id, zone string, actions []string) (brain.Mappings, error)
	Capabilities(ctx context.Context, id, zone string) (resolved, suggested []string, err error)
}

// NewRouter wires the control surface. accessLog receives combined-format
// access lines; m may be nil.
func NewRouter(logger *slog.Logger, ctrl Controller, m *metrics.Metrics, accessLog io.Writer) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &api{ctrl: ctrl, lg: logger.With("component", "http")}

	r := mux.NewRouter()
	r.Use(m.Middleware, func(next http.Handler) http.Handler { return WrapWithLogging(h.lg, next) })
	r.HandleFunc("/health", healthLiveHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/force-update", h.forceUpdate).Methods(http.MethodPost)
	r.HandleFunc("/instances", h.listInstances).Methods(http.MethodGet)
	r.HandleFunc("/instances/{id}", h.getInstance).Methods(http.MethodGet)
	r.HandleFunc("/instances/{id}/force-update", h.forceUpdateInstance).Methods(http.MethodPost)
	r.HandleFunc("/instances/{id}/zone-mappings", h.updateZoneMapping).Methods(http.MethodPost)
	r.HandleFunc("/instances/{id}/action-mappings", h.updateActionMapping).Methods(http.MethodPost)
	r.HandleFunc("/instances/{id}/zones/{zone}/capabilities", h.capabilities).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.NotFoundHandler = textHandler(http.StatusNotFound, "not found")
	r.MethodNotAllowedHandler = textHandler(http.StatusMethodNotAllowed, "method not allowed")

	var out http.Handler = r
	if accessLog != nil {
		out = handlers.CombinedLoggingHandler(accessLog, out)
	}
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(logging.StdLogger(logger, slog.LevelError)),
		handlers.PrintRecoveryStack(true),
	)(out)
}

func healthLiveHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func textHandler(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}
