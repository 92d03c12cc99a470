// Package metrics exposes the process-wide Prometheus collectors.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	observersConnected         prometheus.Gauge
	broadcastFailuresTotal     prometheus.Counter
	progressWriteFailuresTotal prometheus.Counter
	progressDroppedTotal       prometheus.Counter
	staleTerminalWritesTotal   prometheus.Counter
	jobsInFlight               prometheus.Gauge
	rateLimitedTotal           *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once; every Observe helper calls it.
func Init() {
	once.Do(func() {
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
		observersConnected = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "boltflow_observers_connected",
			Help: "Number of live observer connections registered with the hub.",
		})
		broadcastFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "boltflow_broadcast_failures_total",
			Help: "Sends that failed and caused the observer to be dropped.",
		})
		progressWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "boltflow_progress_write_failures_total",
			Help: "Non-terminal progress updates that could not be persisted.",
		})
		progressDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "boltflow_progress_events_dropped_total",
			Help: "Progress events discarded because a newer one superseded them in a full queue.",
		})
		staleTerminalWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "boltflow_stale_terminal_writes_total",
			Help: "Terminal outcomes broadcast without being persisted.",
		})
		jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "boltflow_jobs_in_flight",
			Help: "Jobs currently executing in this process.",
		})
		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boltflow_rate_limited_total",
				Help: "Requests rejected by the rate limiter, labeled by route.",
			},
			[]string{"route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetObservers reports the current hub size.
func SetObservers(n int) {
	Init()
	observersConnected.Set(float64(n))
}

// IncBroadcastFailure counts a failed observer send.
func IncBroadcastFailure() {
	Init()
	broadcastFailuresTotal.Inc()
}

// IncProgressWriteFailure counts a swallowed progress persistence error.
func IncProgressWriteFailure() {
	Init()
	progressWriteFailuresTotal.Inc()
}

// AddProgressDropped counts superseded progress events.
func AddProgressDropped(n int) {
	if n <= 0 {
		return
	}
	Init()
	progressDroppedTotal.Add(float64(n))
}

// IncStaleTerminalWrite raises the stale job state alert.
func IncStaleTerminalWrite() {
	Init()
	staleTerminalWritesTotal.Inc()
}

// IncJobsInFlight marks a job goroutine as started.
func IncJobsInFlight() {
	Init()
	jobsInFlight.Inc()
}

// DecJobsInFlight marks a job goroutine as finished.
func DecJobsInFlight() {
	Init()
	jobsInFlight.Dec()
}

// IncRateLimited counts a rejected request.
func IncRateLimited(route string) {
	Init()
	rateLimitedTotal.WithLabelValues(route).Inc()
}
