// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voice_assistant"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Intent metrics
	IntentResolutions *prometheus.CounterVec
	IntentLatency     *prometheus.HistogramVec

	// Turn metrics
	PhaseTransitions *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	SessionsTotal    prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishLatency prometheus.Histogram

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		IntentResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_resolutions_total",
			Help:      "Intent resolutions by resulting type and pipeline outcome",
		}, []string{"type", "outcome"}),
		IntentLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "intent_resolution_seconds",
			Help:      "Time spent resolving an utterance, including the generative call",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
		}, []string{"outcome"}),

		PhaseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_transitions_total",
			Help:      "Turn state machine phase transitions",
		}, []string{"from", "to"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open live assistant sessions",
		}),
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of live assistant sessions opened",
		}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Turn events published, by status",
		}, []string{"status"}),
		KafkaPublishLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_seconds",
			Help:      "Kafka publish latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// RecordResolution records one intent resolution.
func (m *Metrics) RecordResolution(intentType, outcome string, elapsed time.Duration) {
	m.IntentResolutions.WithLabelValues(intentType, outcome).Inc()
	m.IntentLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordTransition records a turn phase change.
func (m *Metrics) RecordTransition(from, to string) {
	m.PhaseTransitions.WithLabelValues(from, to).Inc()
}

// SessionOpened records a new live session.
func (m *Metrics) SessionOpened() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// SessionClosed records the end of a live session.
func (m *Metrics) SessionClosed() {
	m.SessionsActive.Dec()
}

// RecordKafkaPublish records one publish attempt.
func (m *Metrics) RecordKafkaPublish(err error, elapsed time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.KafkaPublishTotal.WithLabelValues(status).Inc()
	m.KafkaPublishLatency.Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by the chi route pattern, which
// keeps label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.HTTPLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
