// Package metrics exposes Prometheus collectors for the snapshotter service.
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
	tasksTotal                 *prometheus.CounterVec
	activeTasks                prometheus.Gauge
	rendersTotal               *prometheus.CounterVec
	renderDurationSeconds      *prometheus.HistogramVec
	stabilizationAttempts      prometheus.Histogram
	uploadsTotal               *prometheus.CounterVec
	uploadBytesTotal           *prometheus.CounterVec
	engineCallsTotal           *prometheus.CounterVec
	engineTransportFaults      prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshotter_tasks_total",
				Help: "Total number of external tasks processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "snapshotter_active_tasks",
				Help: "Number of external tasks currently being processed.",
			},
		)

		rendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshotter_renders_total",
				Help: "Total number of single-dimension renders, labeled by strategy and status.",
			},
			[]string{"strategy", "status"},
		)

		renderDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "snapshotter_render_duration_seconds",
				Help:    "Histogram of single-dimension render latencies, labeled by strategy.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"strategy"},
		)

		stabilizationAttempts = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "snapshotter_stabilization_attempts",
				Help:    "Number of screenshot attempts needed before the frame was accepted.",
				Buckets: []float64{1, 2, 3, 5, 8, 12, 16, 20},
			},
		)

		uploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshotter_uploads_total",
				Help: "Total number of artifact uploads, labeled by bucket and status.",
			},
			[]string{"bucket", "status"},
		)

		uploadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshotter_upload_bytes_total",
				Help: "Total number of bytes uploaded, labeled by bucket.",
			},
			[]string{"bucket"},
		)

		engineCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshotter_engine_calls_total",
				Help: "Total number of workflow engine calls, labeled by operation and status.",
			},
			[]string{"op", "status"},
		)

		engineTransportFaults = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "snapshotter_engine_transport_faults_total",
				Help: "Total number of workflow engine attempts that failed before a response arrived.",
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
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask increments the task counter for the given outcome.
func ObserveTask(outcome string) {
	Init()
	tasksTotal.WithLabelValues(outcome).Inc()
}

// IncActiveTasks increments the active tasks gauge.
func IncActiveTasks() {
	Init()
	activeTasks.Inc()
}

// DecActiveTasks decrements the active tasks gauge.
func DecActiveTasks() {
	Init()
	activeTasks.Dec()
}

// ObserveRender records one single-dimension render.
func ObserveRender(strategy, status string, duration time.Duration) {
	Init()
	rendersTotal.WithLabelValues(strategy, status).Inc()
	renderDurationSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveStabilization records how many captures a screenshot needed.
func ObserveStabilization(attempts int) {
	Init()
	stabilizationAttempts.Observe(float64(attempts))
}

// ObserveUpload records one artifact upload.
func ObserveUpload(bucket, status string, size int) {
	Init()
	uploadsTotal.WithLabelValues(bucket, status).Inc()
	if size > 0 {
		uploadBytesTotal.WithLabelValues(bucket).Add(float64(size))
	}
}

// ObserveEngineCall records one workflow engine call.
func ObserveEngineCall(op, status string) {
	Init()
	engineCallsTotal.WithLabelValues(op, status).Inc()
}

// ObserveEngineTransportFault counts an engine attempt that failed at the transport level.
func ObserveEngineTransportFault() {
	Init()
	engineTransportFaults.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
