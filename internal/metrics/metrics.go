// Package metrics exposes Prometheus collectors for the crawl core.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlkit_cache_lookups_total",
			Help: "Request cache lookups, labeled by result (hit, miss, coalesced).",
		},
		[]string{"result"},
	)

	cacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlkit_cache_evictions_total",
			Help: "Entries evicted from a cache tier for capacity.",
		},
		[]string{"tier"},
	)

	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlkit_fetch_attempts_total",
			Help: "Network fetch attempts, labeled by host and outcome.",
		},
		[]string{"host", "outcome"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlkit_fetch_bytes_total",
			Help: "Response bytes fetched from the network, labeled by host.",
		},
		[]string{"host"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawlkit_fetch_duration_seconds",
			Help:    "Latency of individual network fetches.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"host"},
	)

	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawlkit_fetch_retries_total",
			Help: "Retries scheduled by the backoff controller.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawlkit_rate_limit_delay_seconds",
			Help:    "Time spent waiting for a per-host rate limit permit.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	proxyTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlkit_proxy_transitions_total",
			Help: "Proxy health state transitions, labeled by target state.",
		},
		[]string{"state"},
	)

	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlkit_items_total",
			Help: "Work items settled, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawlkit_active_workers",
			Help: "Number of workers currently processing an item.",
		},
	)

	checkpointPosition = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawlkit_checkpoint_position",
			Help: "Last durably completed work item index per crawl.",
		},
		[]string{"crawl"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlkit_status_http_requests_total",
			Help: "Requests served by the status API, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawlkit_status_http_request_duration_seconds",
			Help:    "Status API latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records status API request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.statusCode)).Inc()
		httpRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveCacheLookup records a request cache lookup result.
func ObserveCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheEviction records entries evicted from a cache tier.
func ObserveCacheEviction(tier string, n int) {
	if n > 0 {
		cacheEvictionsTotal.WithLabelValues(tier).Add(float64(n))
	}
}

// ObserveFetch records one network attempt.
func ObserveFetch(host, outcome string, bytesFetched int, duration time.Duration) {
	fetchAttemptsTotal.WithLabelValues(host, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
	}
}

// ObserveRetry records a scheduled retry.
func ObserveRetry() {
	retriesTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveProxyTransition records a proxy entering state.
func ObserveProxyTransition(state string) {
	proxyTransitionsTotal.WithLabelValues(state).Inc()
}

// ObserveItem records a settled work item.
func ObserveItem(outcome string) {
	itemsTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// SetCheckpoint publishes the durable checkpoint position for crawl.
func SetCheckpoint(crawl string, position int64) {
	checkpointPosition.WithLabelValues(crawl).Set(float64(position))
}
