// Package metrics defines the Prometheus metric collectors used across the
// proxy and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the proxy.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	CacheHitsTotal         prometheus.Counter
	CacheMissesTotal       prometheus.Counter
	CacheBypassTotal       prometheus.Counter
	TablesCached           prometheus.Gauge
	CacheMaterializeTotal  *prometheus.CounterVec
	MaterializeDuration    prometheus.Histogram
	BackingStoreFetchTotal *prometheus.CounterVec
	BackingStoreFetchTime  prometheus.Histogram
	InvalidationsTotal     *prometheus.CounterVec
	AdmissionRejectedTotal prometheus.Counter
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hypercube_cache_hits_total",
				Help: "Total number of queries served from an existing hypercube.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hypercube_cache_misses_total",
				Help: "Total number of queries that required materializing a new hypercube.",
			},
		),
		CacheBypassTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hypercube_cache_bypass_total",
				Help: "Total number of queries routed straight to the backing store (not rollup-compatible).",
			},
		),
		TablesCached: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hypercube_tables_cached",
				Help: "Number of hypercubes currently materialized in the cube store.",
			},
		),
		CacheMaterializeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hypercube_materialize_total",
				Help: "Total hypercube materializations by outcome.",
			},
			[]string{"outcome"},
		),
		MaterializeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hypercube_materialize_duration_seconds",
				Help:    "Time to materialize a hypercube from a backing-store fetch.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		BackingStoreFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backing_store_fetch_total",
				Help: "Total backing store fetches by outcome.",
			},
			[]string{"outcome"},
		),
		BackingStoreFetchTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backing_store_fetch_duration_seconds",
				Help:    "Backing store fetch latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		InvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hypercube_invalidations_total",
				Help: "Total cache flushes by trigger (probe, admin, cluster).",
			},
			[]string{"trigger"},
		),
		AdmissionRejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sql_admission_rejected_total",
				Help: "Total queries rejected by the admission gate.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheBypassTotal,
		m.TablesCached,
		m.CacheMaterializeTotal,
		m.MaterializeDuration,
		m.BackingStoreFetchTotal,
		m.BackingStoreFetchTime,
		m.InvalidationsTotal,
		m.AdmissionRejectedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
