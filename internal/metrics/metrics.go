// Package metrics exposes Prometheus collectors for the queue service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	queueAppendsTotal          *prometheus.CounterVec
	queueQueriesTotal          *prometheus.CounterVec
	queueQueryDurationSeconds  prometheus.Histogram
	crawlsActive               prometheus.Gauge
	crawlsReapedTotal          prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		queueAppendsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlqueue_appends_total",
				Help: "Total URL appends, labeled by result (appended, duplicate, dropped, error).",
			},
			[]string{"result"},
		)

		queueQueriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlqueue_queries_total",
				Help: "Total queue queries, labeled by outcome (ok, invalid_pattern, not_found, unauthorized, error).",
			},
			[]string{"outcome"},
		)

		queueQueryDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawlqueue_query_duration_seconds",
				Help:    "Latency of queue snapshot queries.",
				Buckets: prometheus.DefBuckets,
			},
		)

		crawlsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawlqueue_crawls_active",
				Help: "Number of crawls not yet in a terminal state.",
			},
		)

		crawlsReapedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawlqueue_crawls_reaped_total",
				Help: "Crawl records garbage-collected after their TTL.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency, labeled by method and route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAppend increments the append counter for the given result.
func ObserveAppend(result string) {
	queueAppendsTotal.WithLabelValues(result).Inc()
}

// ObserveQuery records one queue query with its outcome and latency.
func ObserveQuery(outcome string, duration time.Duration) {
	queueQueriesTotal.WithLabelValues(outcome).Inc()
	queueQueryDurationSeconds.Observe(duration.Seconds())
}

// SetActiveCrawls sets the active-crawl gauge.
func SetActiveCrawls(n int) {
	crawlsActive.Set(float64(n))
}

// ObserveReap counts one TTL garbage collection.
func ObserveReap() {
	crawlsReapedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
