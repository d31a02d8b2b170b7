// Package metrics provides Prometheus metrics for the weather service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProviderRequestsTotal counts provider fetches by outcome
	// (ok, no_data, error, timeout).
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weather_provider_requests_total",
			Help: "Total number of weather provider fetches by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderRequestDuration is a histogram of provider fetch latencies.
	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weather_provider_request_duration_seconds",
			Help:    "Duration of weather provider fetches",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	// RateLimitWait is a histogram of time spent waiting on the per-provider limiter.
	RateLimitWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weather_ratelimit_wait_seconds",
			Help:    "Time spent waiting for the provider rate limiter",
			Buckets: []float64{0, .01, .1, .25, .5, 1, 2, 5},
		},
		[]string{"provider"},
	)

	// CacheLookupsTotal counts cache lookups (hit, miss, bypass).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weather_cache_lookups_total",
			Help: "Total number of weather cache lookups",
		},
		[]string{"result"},
	)

	// AggregationDuration is a histogram of full aggregation durations.
	AggregationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weather_aggregation_duration_seconds",
			Help:    "Duration of multi-provider weather aggregations",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CircuitBreakerState is the state of each provider's circuit breaker
	// (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weather_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)
)

var registerOnce sync.Once

// Register registers all metrics with the default Prometheus registry.
// It is safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ProviderRequestsTotal,
			ProviderRequestDuration,
			RateLimitWait,
			CacheLookupsTotal,
			AggregationDuration,
			CircuitBreakerState,
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordProviderFetch records one provider fetch.
func RecordProviderFetch(provider, outcome string, duration time.Duration) {
	ProviderRequestsTotal.WithLabelValues(provider, outcome).Inc()
	ProviderRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordRateLimitWait records time spent in the provider rate limiter.
func RecordRateLimitWait(provider string, waited time.Duration) {
	RateLimitWait.WithLabelValues(provider).Observe(waited.Seconds())
}

// RecordCacheLookup records a cache lookup result.
func RecordCacheLookup(result string) {
	CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordAggregation records one aggregation run.
func RecordAggregation(duration time.Duration) {
	AggregationDuration.Observe(duration.Seconds())
}

// RecordCircuitState records the circuit breaker state of a provider.
func RecordCircuitState(provider string, state float64) {
	CircuitBreakerState.WithLabelValues(provider).Set(state)
}
