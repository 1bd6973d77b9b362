package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the translation relay service
type Metrics struct {
	registry *prometheus.Registry

	// Media leg metrics
	MediaFramesReceived *prometheus.CounterVec
	MediaFramesSent     *prometheus.CounterVec
	MediaFrameErrors    *prometheus.CounterVec
	FramesSuppressed    prometheus.Counter

	// Call / relay metrics
	ActiveCalls   prometheus.Gauge
	CallsStarted  prometheus.Counter
	CallsFinished prometheus.Counter
	CallDuration  prometheus.Histogram

	// Translation session metrics
	SessionsOpened     *prometheus.CounterVec
	SessionsClosed     *prometheus.CounterVec
	SessionErrors      *prometheus.CounterVec
	AudioChunksSent    *prometheus.CounterVec
	AudioChunksDropped *prometheus.CounterVec
	TranslationEvents  *prometheus.CounterVec
	ParseErrors        *prometheus.CounterVec

	// Utterance latency (end-of-speech to first translated audio)
	UtteranceLatency *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all relay metrics on a dedicated registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		// Media leg metrics
		MediaFramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_media_frames_received_total",
			Help: "Total number of media frames received per leg",
		}, []string{"leg"}),
		MediaFramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_media_frames_sent_total",
			Help: "Total number of translated-audio frames written per leg",
		}, []string{"leg"}),
		MediaFrameErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_media_frame_errors_total",
			Help: "Total number of malformed or undeliverable media frames per leg",
		}, []string{"leg"}),
		FramesSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_guard_frames_suppressed_total",
			Help: "Total number of outbound-leg frames suppressed by the startup guard window",
		}),

		// Call / relay metrics
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_calls",
			Help: "Current number of active call relays",
		}),
		CallsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_calls_started_total",
			Help: "Total number of call relays created",
		}),
		CallsFinished: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_calls_finished_total",
			Help: "Total number of call relays closed",
		}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_call_duration_seconds",
			Help:    "Duration of call relays in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Translation session metrics
		SessionsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_translation_sessions_opened_total",
			Help: "Total number of translation sessions that reached the open state",
		}, []string{"role"}),
		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_translation_sessions_closed_total",
			Help: "Total number of translation sessions closed",
		}, []string{"role"}),
		SessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_translation_session_errors_total",
			Help: "Total number of translation session transport errors",
		}, []string{"role"}),
		AudioChunksSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_audio_chunks_sent_total",
			Help: "Total number of audio chunks forwarded to translation sessions",
		}, []string{"role"}),
		AudioChunksDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_audio_chunks_dropped_total",
			Help: "Total number of audio chunks dropped because a session was not open",
		}, []string{"role"}),
		TranslationEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_translation_events_total",
			Help: "Total number of inbound translation events by kind",
		}, []string{"role", "event"}),
		ParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_translation_parse_errors_total",
			Help: "Total number of malformed inbound translation messages dropped",
		}, []string{"role"}),

		// Utterance latency
		UtteranceLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_utterance_latency_seconds",
			Help:    "Latency between end-of-speech detection and first translated audio",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"leg"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Registry returns the registry backing these metrics, for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordMediaFrameReceived increments the received frame counter for a leg
func (m *Metrics) RecordMediaFrameReceived(leg string) {
	m.MediaFramesReceived.WithLabelValues(leg).Inc()
}

// RecordMediaFrameSent increments the sent frame counter for a leg
func (m *Metrics) RecordMediaFrameSent(leg string) {
	m.MediaFramesSent.WithLabelValues(leg).Inc()
}

// RecordMediaFrameError increments the frame error counter for a leg
func (m *Metrics) RecordMediaFrameError(leg string) {
	m.MediaFrameErrors.WithLabelValues(leg).Inc()
}

// RecordFrameSuppressed increments the guard window suppression counter
func (m *Metrics) RecordFrameSuppressed() {
	m.FramesSuppressed.Inc()
}

// RecordCallStarted records a new call relay
func (m *Metrics) RecordCallStarted() {
	m.CallsStarted.Inc()
	m.ActiveCalls.Inc()
}

// RecordCallFinished records a closed call relay and its duration
func (m *Metrics) RecordCallFinished(durationSeconds float64) {
	m.CallsFinished.Inc()
	m.ActiveCalls.Dec()
	m.CallDuration.Observe(durationSeconds)
}

// RecordSessionOpened records a translation session reaching the open state
func (m *Metrics) RecordSessionOpened(role string) {
	m.SessionsOpened.WithLabelValues(role).Inc()
}

// RecordSessionClosed records a closed translation session
func (m *Metrics) RecordSessionClosed(role string) {
	m.SessionsClosed.WithLabelValues(role).Inc()
}

// RecordSessionError records a translation session transport error
func (m *Metrics) RecordSessionError(role string) {
	m.SessionErrors.WithLabelValues(role).Inc()
}

// RecordAudioChunkSent records an audio chunk forwarded to a session
func (m *Metrics) RecordAudioChunkSent(role string) {
	m.AudioChunksSent.WithLabelValues(role).Inc()
}

// RecordAudioChunkDropped records an audio chunk dropped on a closed session
func (m *Metrics) RecordAudioChunkDropped(role string) {
	m.AudioChunksDropped.WithLabelValues(role).Inc()
}

// RecordTranslationEvent records an inbound event by kind
func (m *Metrics) RecordTranslationEvent(role, event string) {
	m.TranslationEvents.WithLabelValues(role, event).Inc()
}

// RecordParseError records a dropped malformed inbound message
func (m *Metrics) RecordParseError(role string) {
	m.ParseErrors.WithLabelValues(role).Inc()
}

// RecordUtteranceLatency records one end-of-speech to first-audio latency
func (m *Metrics) RecordUtteranceLatency(leg string, seconds float64) {
	m.UtteranceLatency.WithLabelValues(leg).Observe(seconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
