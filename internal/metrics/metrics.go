// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerQueueTransitionsTotal  *prometheus.CounterVec
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBooksSavedTotal        *prometheus.CounterVec
	crawlerBooksRejectedTotal     *prometheus.CounterVec
	crawlerDuplicatesTotal        prometheus.Counter
	crawlerFetchDurationSeconds   *prometheus.HistogramVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerQueueTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_queue_transitions_total",
				Help: "Frontier entries moved into a status, labeled by the new status.",
			},
			[]string{"status"},
		)

		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Pages visited, labeled by url kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		crawlerBooksSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_books_saved_total",
				Help: "Book records written to storage, labeled by run mode.",
			},
			[]string{"mode"},
		)

		crawlerBooksRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_books_rejected_total",
				Help: "Candidates rejected by the normalization pipeline, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlerDuplicatesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_duplicates_total",
				Help: "Candidates skipped because the book was already known.",
			},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by source.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of update workers currently processing a batch.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveQueueTransition counts a frontier entry entering status.
func ObserveQueueTransition(status string) {
	Init()
	crawlerQueueTransitionsTotal.WithLabelValues(status).Inc()
}

// ObservePage counts a visited page.
func ObservePage(kind, outcome string) {
	Init()
	crawlerPagesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveBookSaved counts a persisted book.
func ObserveBookSaved(mode string) {
	Init()
	crawlerBooksSavedTotal.WithLabelValues(mode).Inc()
}

// ObserveRejection counts a candidate dropped by the pipeline.
func ObserveRejection(reason string) {
	Init()
	crawlerBooksRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveDuplicate counts a candidate skipped by deduplication.
func ObserveDuplicate() {
	Init()
	crawlerDuplicatesTotal.Inc()
}

// ObserveFetch records how long one page fetch took.
func ObserveFetch(source string, duration time.Duration) {
	Init()
	crawlerFetchDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
