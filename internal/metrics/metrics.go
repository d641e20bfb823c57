// Package metrics exposes authorization and HTTP counters on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	DecisionsTotal    *prometheus.CounterVec
	HTTPRequestsTotal *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
}

// New creates and registers all collectors. A nil registry gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: registry,
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rocket_guard_authz_decisions_total",
				Help: "Authorization decisions by entity, operation and outcome",
			},
			[]string{"entity", "operation", "outcome"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rocket_guard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rocket_guard_events_published_total",
				Help: "Change events published to the broker",
			},
			[]string{"entity", "operation"},
		),
	}

	registry.MustRegister(m.DecisionsTotal, m.HTTPRequestsTotal, m.EventsPublished)
	return m
}

// RecordDecision implements authz.DecisionRecorder.
func (m *Metrics) RecordDecision(entity, operation, outcome string) {
	m.DecisionsTotal.WithLabelValues(entity, operation, outcome).Inc()
}

// RecordRequest counts one HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// RecordEvent counts one published change event.
func (m *Metrics) RecordEvent(entity, operation string) {
	m.EventsPublished.WithLabelValues(entity, operation).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
