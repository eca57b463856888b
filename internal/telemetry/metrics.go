package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the gateway. A nil *Metrics is
// valid and records nothing, so components can be tested without a registry.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions   prometheus.Gauge
	framesSent       *prometheus.CounterVec
	uploadsCompleted prometheus.Counter
	uploadsFailed    prometheus.Counter
	uploadBytes      prometheus.Counter
	turnsStarted     *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aicca_sessions_active",
			Help: "Number of currently connected sessions.",
		}),
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aicca_frames_sent_total",
			Help: "Server frames delivered to clients, by frame type.",
		}, []string{"type"}),
		uploadsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "aicca_uploads_completed_total",
			Help: "Chunked uploads reassembled and saved.",
		}),
		uploadsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "aicca_uploads_failed_total",
			Help: "Chunked uploads discarded after a decode or save failure.",
		}),
		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "aicca_upload_bytes_total",
			Help: "Total reassembled artifact bytes saved.",
		}),
		turnsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aicca_turns_total",
			Help: "Engine turns drained, by kind (chat or analysis).",
		}, []string{"kind"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aicca_tool_calls_total",
			Help: "Tool executions, by tool name and status.",
		}, []string{"tool", "status"}),
	}
}

// Handler returns an HTTP handler serving the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// FrameSent records one delivered frame of the given type.
func (m *Metrics) FrameSent(frameType string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(frameType).Inc()
}

// UploadCompleted records a successful reassembly of size bytes.
func (m *Metrics) UploadCompleted(size int64) {
	if m == nil {
		return
	}
	m.uploadsCompleted.Inc()
	m.uploadBytes.Add(float64(size))
}

// UploadFailed records a discarded upload.
func (m *Metrics) UploadFailed() {
	if m == nil {
		return
	}
	m.uploadsFailed.Inc()
}

// TurnStarted records the start of an engine drain of the given kind.
func (m *Metrics) TurnStarted(kind string) {
	if m == nil {
		return
	}
	m.turnsStarted.WithLabelValues(kind).Inc()
}

// ToolCall records a tool execution outcome.
func (m *Metrics) ToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}
