// Package metrics defines the Prometheus metric collectors used across the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	PostsCreatedTotal     prometheus.Counter
	RateLimitDecisions    *prometheus.CounterVec
	FeedAssemblyDuration  *prometheus.HistogramVec
	FeedAssemblyFailures  *prometheus.CounterVec
	FeedItemsReturned     prometheus.Histogram
	DigestCacheHitsTotal  prometheus.Counter
	DigestCacheMissTotal  prometheus.Counter
	DigestComputeDuration prometheus.Histogram
	EventsPublishedTotal  *prometheus.CounterVec
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all metrics and registers them with the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates all metrics and registers them with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
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
		PostsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "posts_created_total",
				Help: "Total posts written to the store.",
			},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_decisions_total",
				Help: "Rate limiter decisions by outcome (allowed, rejected, unavailable).",
			},
			[]string{"outcome"},
		),
		FeedAssemblyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feed_assembly_duration_seconds",
				Help:    "Time to join posts with authors and image digests.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"query"},
		),
		FeedAssemblyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_assembly_failures_total",
				Help: "Feed reads that failed, by error kind.",
			},
			[]string{"kind"},
		),
		FeedItemsReturned: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "feed_items_returned",
				Help:    "Number of feed items returned per read.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		DigestCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "digest_cache_hits_total",
				Help: "Image digest lookups served from Redis.",
			},
		),
		DigestCacheMissTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "digest_cache_misses_total",
				Help: "Image digest lookups that required a fetch.",
			},
		),
		DigestComputeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "digest_compute_duration_seconds",
				Help:    "Time to fetch and encode one image placeholder.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Domain events published to Kafka by status.",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.PostsCreatedTotal,
		m.RateLimitDecisions,
		m.FeedAssemblyDuration,
		m.FeedAssemblyFailures,
		m.FeedItemsReturned,
		m.DigestCacheHitsTotal,
		m.DigestCacheMissTotal,
		m.DigestComputeDuration,
		m.EventsPublishedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for g. A nil gatherer
// serves the default registry.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
