// Package metrics holds the Prometheus collectors of the authorizer.
//
// All recording methods are safe on a nil *Metrics, which lets components
// run without metrics wiring in tests and in the Lambda runtime.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "authorizer"

type Metrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	jwksFetchTotal   *prometheus.CounterVec
	jwksFetchLatency prometheus.Histogram
	jwksCacheTotal   *prometheus.CounterVec
	registry         *prometheus.Registry
}

// New creates a Metrics instance backed by its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of authorization decisions by effect and reason",
		},
		[]string{"effect", "reason"},
	)

	m.decisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "Time spent producing an authorization decision",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"effect"},
	)

	m.jwksFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwks",
			Name:      "fetch_total",
			Help:      "Total number of signing key set fetches by status",
		},
		[]string{"status"},
	)

	m.jwksFetchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jwks",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of signing key set fetches",
			Buckets:   prometheus.DefBuckets,
		},
	)

	m.jwksCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwks",
			Name:      "cache_total",
			Help:      "Signing key set cache lookups by result",
		},
		[]string{"result"},
	)

	m.registry.MustRegister(
		m.decisionsTotal,
		m.decisionDuration,
		m.jwksFetchTotal,
		m.jwksFetchLatency,
		m.jwksCacheTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordDecision counts one decision. reason is "ok" for allowed requests
// and the failure kind otherwise.
func (m *Metrics) RecordDecision(effect, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(effect, reason).Inc()
	m.decisionDuration.WithLabelValues(effect).Observe(duration.Seconds())
}

func (m *Metrics) RecordFetch(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jwksFetchTotal.WithLabelValues(status).Inc()
	m.jwksFetchLatency.Observe(duration.Seconds())
}

// RecordCache counts a cache lookup; result is one of "hit", "miss",
// "shared_hit" or "refresh".
func (m *Metrics) RecordCache(result string) {
	if m == nil {
		return
	}
	m.jwksCacheTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
