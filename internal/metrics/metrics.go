// v0
// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nrgchamp/housebrain/internal/brain"
	"nrgchamp/housebrain/internal/breaker"
)

// Metrics owns a dedicated registry. A nil *Metrics is a valid no-op.
type Metrics struct {
	reg *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	cyclesTotal       *prometheus.CounterVec
	cycleDuration     *prometheus.HistogramVec
	decideDuration    *prometheus.HistogramVec
	observations      *prometheus.GaugeVec
	actionsTotal      *prometheus.CounterVec
	rejectionsTotal   *prometheus.CounterVec
	cbState           *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "housebrain_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "housebrain_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "housebrain_cycles_total",
			Help: "Decision cycles by instance and result.",
		}, []string{"instance", "result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "housebrain_cycle_duration_seconds",
			Help:    "Wall time of decision cycles.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"instance"}),
		decideDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "housebrain_decision_duration_seconds",
			Help:    "Round trip to the reasoning endpoint by outcome.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"instance", "outcome"}),
		observations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "housebrain_snapshot_observations",
			Help: "Observations in the most recent snapshot.",
		}, []string{"instance"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "housebrain_actions_executed_total",
			Help: "Executed actions by instance and action.",
		}, []string{"instance", "action"}),
		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "housebrain_rejections_total",
			Help: "Decisions rejected by validation.",
		}, []string{"instance"}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "housebrain_cb_state",
			Help: "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.cyclesTotal,
		m.cycleDuration,
		m.decideDuration,
		m.observations,
		m.actionsTotal,
		m.rejectionsTotal,
		m.cbState,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and durations labelled by the matched
// mux route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m == nil {
			return
		}
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveCycle records one decision cycle.
func (m *Metrics) ObserveCycle(r brain.CycleReport) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(r.InstanceID, string(r.Result)).Inc()
	m.cycleDuration.WithLabelValues(r.InstanceID).Observe(r.Duration.Seconds())
	m.observations.WithLabelValues(r.InstanceID).Set(float64(r.Observations))
	if r.DecideDuration > 0 {
		m.decideDuration.WithLabelValues(r.InstanceID, r.Outcome.String()).Observe(r.DecideDuration.Seconds())
	}
	switch r.Result {
	case brain.ResultExecuted:
		m.actionsTotal.WithLabelValues(r.InstanceID, r.Decision.Capability).Inc()
	case brain.ResultRejected:
		m.rejectionsTotal.WithLabelValues(r.InstanceID).Inc()
	}
}

func (m *Metrics) SetCircuitBreakerState(target string, s breaker.State) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(target).Set(float64(s))
}
