package linkcheck

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Cache operation results recorded in linkcheck_cache_operations_total.
const (
	resultHit      = "hit"
	resultMiss     = "miss"
	resultCorrupt  = "corrupt"
	resultError    = "error"
	resultOK       = "ok"
	resultDisabled = "disabled"
	resultCanceled = "canceled"
)

// Metrics holds the Prometheus collectors of one process. It owns its
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	CacheOperations *prometheus.CounterVec
	CacheErrors     *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors under the given namespace.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CacheOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Cache operations by operation and result",
			},
			[]string{"op", "result"},
		),
		CacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_errors_total",
				Help:      "Cache backend errors swallowed by the cache service",
			},
			[]string{"op"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.CacheOperations,
		m.CacheErrors,
		m.HTTPRequests,
		m.HTTPDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) cacheOp(op, result string) {
	if m == nil {
		return
	}
	m.CacheOperations.WithLabelValues(op, result).Inc()
	if result == resultError {
		m.CacheErrors.WithLabelValues(op).Inc()
	}
}
