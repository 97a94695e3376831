// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for lending transitions
const (
	OutcomeSuccess   = "success"
	OutcomeNotFound  = "not_found"
	OutcomeForbidden = "forbidden"
	OutcomeConflict  = "conflict"
	OutcomeError     = "error"
)

// Metrics contains the custom collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	LendingTransitions *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	CacheLookups       *prometheus.CounterVec
	ActivityFailures   *prometheus.CounterVec
}

// New creates a private registry with the Go and process collectors plus
// the libmanager metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		LendingTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "libmanager_lending_transitions_total",
				Help: "Borrow and return attempts by outcome",
			},
			[]string{"action", "outcome"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "libmanager_http_requests_total",
				Help: "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "libmanager_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "libmanager_book_cache_lookups_total",
				Help: "Book detail cache lookups by result",
			},
			[]string{"result"},
		),
		ActivityFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "libmanager_activity_failures_total",
				Help: "Lending events that could not be delivered, by sink",
			},
			[]string{"sink"},
		),
	}

	registry.MustRegister(m.LendingTransitions)
	registry.MustRegister(m.HTTPRequests)
	registry.MustRegister(m.HTTPDuration)
	registry.MustRegister(m.CacheLookups)
	registry.MustRegister(m.ActivityFailures)

	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) RecordLending(action, outcome string) {
	if m == nil {
		return
	}
	m.LendingTransitions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordActivityFailure(sink string) {
	if m == nil {
		return
	}
	m.ActivityFailures.WithLabelValues(sink).Inc()
}
