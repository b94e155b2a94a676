// Package metrics instruments the service with real Prometheus client
// types, replacing the teacher's hand-rolled Counter/Gauge/Histogram
// structs and text-exposition writer (observability.Metrics) with
// prometheus/client_golang: one registry, with each metric exposed as an
// exported field that callers update directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide Prometheus registry plus every metric
// this service exposes.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	LayerDuration   *prometheus.HistogramVec
	SourceCallTotal *prometheus.CounterVec

	StageDuration *prometheus.HistogramVec
	StageCostUSD  *prometheus.HistogramVec

	BreakerState *prometheus.GaugeVec

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	EventsDroppedTotal *prometheus.CounterVec
}

// New builds and registers every metric against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadforge_http_requests_total",
			Help: "Total HTTP requests by route and status.",
		}, []string{"route", "method", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadforge_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		LayerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadforge_enrichment_layer_duration_seconds",
			Help:    "Wall-clock duration of one enrichment layer run.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 6, 8, 10, 15},
		}, []string{"layer"}),
		SourceCallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadforge_source_calls_total",
			Help: "Total enrichment source adapter calls by outcome.",
		}, []string{"source", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadforge_analysis_stage_duration_seconds",
			Help:    "Wall-clock duration of one analysis stage call.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90, 120},
		}, []string{"stage_id"}),
		StageCostUSD: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadforge_analysis_stage_cost_usd",
			Help:    "Per-call LLM cost of one analysis stage.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"stage_id"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "leadforge_circuit_breaker_state",
			Help: "Circuit breaker state by source: 0=closed, 1=half_open, 2=open.",
		}, []string{"source"}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadforge_cache_hits_total",
			Help: "Cache hits by cache name.",
		}, []string{"cache"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadforge_cache_misses_total",
			Help: "Cache misses by cache name.",
		}, []string{"cache"}),
		EventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadforge_events_dropped_total",
			Help: "Progress events dropped under subscriber backpressure.",
		}, []string{"submission_id"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.LayerDuration, m.SourceCallTotal,
		m.StageDuration, m.StageCostUSD,
		m.BreakerState,
		m.CacheHitsTotal, m.CacheMissesTotal,
		m.EventsDroppedTotal,
	)
	return m
}

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// BreakerStateValue maps the three FSM states to the gauge's numeric
// encoding, matching the comment on BreakerState above.
func BreakerStateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
