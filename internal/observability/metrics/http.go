package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServerMetrics holds the api-side registry: request-level HTTP metrics
// plus the query-pipeline observations recorded per run.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	runsTotal           *prometheus.CounterVec
	runDuration         *prometheus.HistogramVec
	stageDuration       *prometheus.HistogramVec
	verifyRetriesTotal  *prometheus.CounterVec
	refineFallbackTotal *prometheus.CounterVec
	fusedCandidates     *prometheus.HistogramVec
	activeAlpha         *prometheus.GaugeVec
	activeTopK          *prometheus.GaugeVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pa",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total completed pipeline runs by outcome.",
		},
		[]string{"service", "outcome"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pa",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "End-to-end pipeline run duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pa",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Per-stage execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	verifyRetriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pa",
			Subsystem: "pipeline",
			Name:      "verify_retries_total",
			Help:      "Total verification-failure retries across runs.",
		},
		[]string{"service"},
	)
	refineFallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pa",
			Subsystem: "pipeline",
			Name:      "refinement_fallbacks_total",
			Help:      "Total runs where refinement degraded to the fused ranking.",
		},
		[]string{"service"},
	)
	fusedCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pa",
			Subsystem: "pipeline",
			Name:      "fused_candidates",
			Help:      "Distribution of fused candidate counts per run.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"service"},
	)
	activeAlpha := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pa",
			Subsystem: "pipeline",
			Name:      "active_alpha",
			Help:      "Fusion weight of the most recently adapted parameter set.",
		},
		[]string{"service"},
	)
	activeTopK := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pa",
			Subsystem: "pipeline",
			Name:      "active_top_k",
			Help:      "Retrieval depth of the most recently adapted parameter set.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		runsTotal,
		runDuration,
		stageDuration,
		verifyRetriesTotal,
		refineFallbackTotal,
		fusedCandidates,
		activeAlpha,
		activeTopK,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		runsTotal:           runsTotal,
		runDuration:         runDuration,
		stageDuration:       stageDuration,
		verifyRetriesTotal:  verifyRetriesTotal,
		refineFallbackTotal: refineFallbackTotal,
		fusedCandidates:     fusedCandidates,
		activeAlpha:         activeAlpha,
		activeTopK:          activeTopK,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/runs/"):
		return "/v1/runs/{run_id}/trace"
	default:
		return path
	}
}

// RecordRun observes one finished pipeline run. Outcome is one of
// "verified", "best_effort" or "error".
func (m *HTTPServerMetrics) RecordRun(service, outcome string, duration time.Duration, candidates int) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.runsTotal.WithLabelValues(service, outcome).Inc()
	m.runDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
	m.fusedCandidates.WithLabelValues(service).Observe(float64(candidates))
}

func (m *HTTPServerMetrics) ObserveStage(service, stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(service, stage).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordVerifyRetry(service string) {
	m.verifyRetriesTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordRefinementFallback(service string) {
	m.refineFallbackTotal.WithLabelValues(service).Inc()
}

// SetActiveParams mirrors the memory controller's current parameter set so
// adaptation drift is visible on a dashboard.
func (m *HTTPServerMetrics) SetActiveParams(service string, alpha float64, topK int) {
	m.activeAlpha.WithLabelValues(service).Set(alpha)
	m.activeTopK.WithLabelValues(service).Set(float64(topK))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
