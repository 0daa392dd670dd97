// Package observability provides Prometheus metrics for the orchestrator.
//
// # Description
//
// Metrics cover the chat endpoints and the inference gateway:
//   - Request counters (by endpoint, status)
//   - Latency histograms (time to first fragment, total stream duration)
//   - Active stream gauge
//   - Fallback, breaker, and rate-limit counters
//
// Exposed via /metrics for Prometheus scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "medgpt"

const chatSubsystem = "chat"

// Endpoint labels for request metrics.
const (
	EndpointChat       = "chat"
	EndpointChatStream = "chat_stream"
)

// Error code labels for ErrorsTotal.
const (
	ErrorCodeValidation       = "validation"
	ErrorCodeLLMError         = "llm_error"
	ErrorCodeClientDisconnect = "client_disconnect"
	ErrorCodeInternal         = "internal"
)

// ChatMetrics holds all Prometheus metrics for chat operations.
// Initialize once at startup via InitMetrics().
type ChatMetrics struct {
	// RequestsTotal counts chat requests by endpoint and status.
	// Labels: endpoint (chat, chat_stream), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// TimeToFirstFragmentSeconds measures latency to the first prose
	// fragment forwarded to the caller. Labels: endpoint
	TimeToFirstFragmentSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total turn duration.
	// Labels: endpoint, status
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently active streaming connections.
	ActiveStreams *prometheus.GaugeVec

	// FallbacksTotal counts primary→secondary failovers by reason
	// (quota, failure, breaker_open, exhausted).
	FallbacksTotal *prometheus.CounterVec

	// BreakerOpensTotal counts circuit breaker trips.
	BreakerOpensTotal prometheus.Counter

	// RateLimitRejectsTotal counts requests denied by the admission
	// limiter.
	RateLimitRejectsTotal prometheus.Counter

	// EmergencyLocksTotal counts turns that set the emergency lock.
	EmergencyLocksTotal prometheus.Counter

	// ErrorsTotal counts errors by endpoint and code.
	ErrorsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance. Nil until InitMetrics runs;
// all call sites nil-guard so tests can run without a registry.
var DefaultMetrics *ChatMetrics

// InitMetrics creates and registers all metrics with the default
// registry. Call once at startup.
func InitMetrics() *ChatMetrics {
	m := &ChatMetrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "requests_total",
			Help:      "Chat requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
		TimeToFirstFragmentSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "time_to_first_fragment_seconds",
			Help:      "Latency until the first prose fragment reaches the caller.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),
		StreamDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "stream_duration_seconds",
			Help:      "Total duration of one chat turn.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"endpoint", "status"}),
		ActiveStreams: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "active_streams",
			Help:      "Currently active streaming connections.",
		}, []string{"endpoint"}),
		FallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "fallbacks_total",
			Help:      "Primary to secondary failovers by reason.",
		}, []string{"reason"}),
		BreakerOpensTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "breaker_opens_total",
			Help:      "Quota circuit breaker trips.",
		}),
		RateLimitRejectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "rate_limit_rejects_total",
			Help:      "Requests denied by the admission limiter.",
		}),
		EmergencyLocksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "emergency_locks_total",
			Help:      "Turns that placed a session into the emergency lock.",
		}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "errors_total",
			Help:      "Errors by endpoint and code.",
		}, []string{"endpoint", "code"}),
	}
	DefaultMetrics = m
	return m
}

// RecordRequest records a completed request.
func (m *ChatMetrics) RecordRequest(endpoint string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordTimeToFirstFragment records fragment latency in seconds.
func (m *ChatMetrics) RecordTimeToFirstFragment(endpoint string, seconds float64) {
	m.TimeToFirstFragmentSeconds.WithLabelValues(endpoint).Observe(seconds)
}

// RecordStreamDuration records the total turn duration in seconds.
func (m *ChatMetrics) RecordStreamDuration(endpoint string, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(endpoint, status).Observe(seconds)
}

// StreamStarted increments the active stream gauge.
func (m *ChatMetrics) StreamStarted(endpoint string) {
	m.ActiveStreams.WithLabelValues(endpoint).Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *ChatMetrics) StreamEnded(endpoint string) {
	m.ActiveStreams.WithLabelValues(endpoint).Dec()
}

// RecordFallback counts a failover by reason.
func (m *ChatMetrics) RecordFallback(reason string) {
	m.FallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordBreakerOpen counts a breaker trip.
func (m *ChatMetrics) RecordBreakerOpen() {
	m.BreakerOpensTotal.Inc()
}

// RecordRateLimitReject counts an admission rejection.
func (m *ChatMetrics) RecordRateLimitReject() {
	m.RateLimitRejectsTotal.Inc()
}

// RecordEmergencyLock counts an emergency lock being set.
func (m *ChatMetrics) RecordEmergencyLock() {
	m.EmergencyLocksTotal.Inc()
}

// RecordError counts an error by endpoint and code.
func (m *ChatMetrics) RecordError(endpoint, code string) {
	m.ErrorsTotal.WithLabelValues(endpoint, code).Inc()
}
