// Package metrics exposes Prometheus metrics for the catalog service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	mutationsTotal   *prometheus.CounterVec
	rejectedTotal    *prometheus.CounterVec
	publishFailures  *prometheus.CounterVec
}

// New registers collectors on a private registry, so tests can build as many
// instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inventory_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "path"}),
		requestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "inventory_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		}),
		mutationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_record_mutations_total",
			Help: "Committed record mutations by entity and action",
		}, []string{"entity", "action"}),
		rejectedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_record_rejections_total",
			Help: "Mutations refused by validation, uniqueness, versions or references",
		}, []string{"entity", "action", "reason"}),
		publishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_event_publish_failures_total",
			Help: "Change events that could not be published",
		}, []string{"entity"}),
	}
}

// RecordHTTPRequest records one served request. path is the route template.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) IncInFlight() {
	if m != nil {
		m.requestsInFlight.Inc()
	}
}

func (m *Metrics) DecInFlight() {
	if m != nil {
		m.requestsInFlight.Dec()
	}
}

func (m *Metrics) RecordMutation(entity, action string) {
	if m != nil {
		m.mutationsTotal.WithLabelValues(entity, action).Inc()
	}
}

func (m *Metrics) RecordRejection(entity, action, reason string) {
	if m != nil {
		m.rejectedTotal.WithLabelValues(entity, action, reason).Inc()
	}
}

func (m *Metrics) RecordPublishFailure(entity string) {
	if m != nil {
		m.publishFailures.WithLabelValues(entity).Inc()
	}
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
