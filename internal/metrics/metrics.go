// Package metrics exposes Prometheus collectors for the property monitor.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propmon_fetch_attempts_total",
			Help: "Total number of HTTP attempts, labeled by classification result.",
		},
		[]string{"result"},
	)

	fetchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propmon_fetch_outcomes_total",
			Help: "Total number of logical fetches, labeled by final outcome.",
		},
		[]string{"outcome"},
	)

	fetchInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "propmon_fetch_inflight",
			Help: "Number of fetches currently holding a concurrency slot.",
		},
	)

	backoffSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "propmon_backoff_seconds",
			Help:    "Histogram of retry backoff waits.",
			Buckets: []float64{1, 2, 3, 5, 9, 17, 33},
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propmon_rate_limit_delay_seconds",
			Help:    "Histogram of throttle wait durations, labeled by host.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propmon_pages_total",
			Help: "Total number of listing pages processed, labeled by final status.",
		},
		[]string{"status"},
	)

	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propmon_records_total",
			Help: "Total number of extracted records, labeled by persistence result.",
		},
		[]string{"result"},
	)

	runDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "propmon_run_duration_seconds",
			Help:    "Histogram of full scrape run durations.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propmon_http_requests_total",
			Help: "Total number of status server requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propmon_http_request_duration_seconds",
			Help:    "Histogram of status server latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Record results tracked by ObserveRecord.
const (
	RecordInserted  = "inserted"
	RecordDuplicate = "duplicate"
	RecordSkipped   = "skipped"
	RecordFailed    = "failed"
)

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
	return promhttp.Handler()
}

// ObserveAttempt counts a single HTTP attempt by its classification result.
func ObserveAttempt(result string) {
	fetchAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveOutcome counts a finished logical fetch.
func ObserveOutcome(outcome string) {
	fetchOutcomesTotal.WithLabelValues(outcome).Inc()
}

// IncInflight increments the in-flight fetch gauge.
func IncInflight() {
	fetchInflight.Inc()
}

// DecInflight decrements the in-flight fetch gauge.
func DecInflight() {
	fetchInflight.Dec()
}

// ObserveBackoff records a retry wait.
func ObserveBackoff(d time.Duration) {
	backoffSeconds.Observe(d.Seconds())
}

// ObserveRateLimitDelay records the duration of a throttle wait.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObservePage counts a finished page by status.
func ObservePage(status string) {
	pagesTotal.WithLabelValues(status).Inc()
}

// ObserveRecord counts a record by persistence result.
func ObserveRecord(result string) {
	recordsTotal.WithLabelValues(result).Inc()
}

// ObserveRun records the wall-clock duration of a scrape run.
func ObserveRun(d time.Duration) {
	runDurationSeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the status server request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
