// Package metrics exposes Prometheus collectors for the scanner service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scannerRequestsTotal        *prometheus.CounterVec
	scannerQueriesTotal         *prometheus.CounterVec
	scannerPostsScoredTotal     prometheus.Counter
	scannerLeadsFoundTotal      prometheus.Counter
	scannerActiveFetches        prometheus.Gauge
	scannerFetchDurationSeconds *prometheus.HistogramVec
	scannerBackoffSeconds       prometheus.Histogram
	scannerProgressEventsTotal  *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scannerRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_requests_total",
				Help: "Total number of API requests, labeled by account and status.",
			},
			[]string{"account", "status"},
		)

		scannerQueriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_queries_total",
				Help: "Total number of queries processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scannerPostsScoredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scanner_posts_scored_total",
				Help: "Total number of posts run through the scorer.",
			},
		)

		scannerLeadsFoundTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scanner_leads_found_total",
				Help: "Total number of posts scoring above the lead threshold.",
			},
		)

		scannerActiveFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scanner_active_fetches",
				Help: "Number of fetch operations currently in flight.",
			},
		)

		scannerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scanner_fetch_duration_seconds",
				Help:    "Histogram of listing fetch latencies, labeled by subreddit.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"subreddit"},
		)

		scannerBackoffSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scanner_backoff_seconds",
				Help:    "Histogram of backoff windows applied after 429 responses.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
		)

		scannerProgressEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_progress_events_total",
				Help: "Total progress events emitted, labeled by stage.",
			},
			[]string{"stage"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest increments the request counter for an account outcome.
// Status is one of "ok", "error", "rate_limited".
func ObserveRequest(account, status string) {
	scannerRequestsTotal.WithLabelValues(account, status).Inc()
}

// ObserveQuery increments the per-outcome query counter.
// Outcome is one of "success", "partial", "failure".
func ObserveQuery(outcome string) {
	scannerQueriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records the latency of one listing fetch.
func ObserveFetch(subreddit string, duration time.Duration) {
	if subreddit == "" {
		subreddit = "all"
	}
	scannerFetchDurationSeconds.WithLabelValues(subreddit).Observe(duration.Seconds())
}

// ObserveBackoff records a backoff window duration.
func ObserveBackoff(d time.Duration) {
	scannerBackoffSeconds.Observe(d.Seconds())
}

// AddPostsScored bumps the scored-post counter.
func AddPostsScored(n int) {
	scannerPostsScoredTotal.Add(float64(n))
}

// AddLeadsFound bumps the lead counter.
func AddLeadsFound(n int) {
	scannerLeadsFoundTotal.Add(float64(n))
}

// IncActiveFetches increments the in-flight fetch gauge.
func IncActiveFetches() {
	scannerActiveFetches.Inc()
}

// DecActiveFetches decrements the in-flight fetch gauge.
func DecActiveFetches() {
	scannerActiveFetches.Dec()
}

// ObserveProgressEvent counts one progress event for the given stage.
func ObserveProgressEvent(stage string) {
	scannerProgressEventsTotal.WithLabelValues(stage).Inc()
}
