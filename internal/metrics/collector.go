// Package metrics exposes Prometheus metrics for the HTTP surface and the
// generation lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/meshforge/internal/generation"
	"github.com/kiranshivaraju/meshforge/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so that several collectors (one per
// test, for instance) never clash on metric names.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	jobsStarted      *prometheus.CounterVec
	statusChecks     *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
}

// NewCollector creates a Collector whose metrics carry the given namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		jobsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_jobs_started_total",
				Help:      "Total number of preview and refine jobs submitted",
			},
			[]string{"kind"},
		),
		statusChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_status_checks_total",
				Help:      "Total number of task status checks by outcome",
			},
			[]string{"outcome"},
		),
		stateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_state_transitions_total",
				Help:      "Total number of lifecycle state transitions",
			},
			[]string{"from_state", "to_state"},
		),
		sessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of open generation sessions",
			},
		),
	}
}

// JobStarted implements generation.Recorder.
func (c *Collector) JobStarted(kind models.JobKind) {
	c.jobsStarted.WithLabelValues(string(kind)).Inc()
}

// StatusChecked implements generation.Recorder.
func (c *Collector) StatusChecked(outcome string) {
	c.statusChecks.WithLabelValues(outcome).Inc()
}

// Transition implements generation.Recorder.
func (c *Collector) Transition(from, to models.Status) {
	c.stateTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordHTTPRequest records one served request. path should be the route
// pattern, not the raw URL, to keep label cardinality bounded.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetActiveSessions reports the current session count.
func (c *Collector) SetActiveSessions(n int) {
	c.sessionsActive.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

var _ generation.Recorder = (*Collector)(nil)
