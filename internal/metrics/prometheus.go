package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the meeting bot.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsFinished *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	StateTransitions *prometheus.CounterVec

	// Capture metrics
	FramesCaptured prometheus.Counter
	FramesDropped  prometheus.Counter
	QueueDepth     prometheus.Gauge

	// Segmentation metrics
	VADChunks         prometheus.Counter
	VADSpeechChunks   prometheus.Counter
	SegmentsSealed    *prometheus.CounterVec
	SegmentsDiscarded prometheus.Counter
	SegmentDuration   prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests   prometheus.Counter
	TranscriptionFailures   prometheus.Counter
	TranscriptionRetries    prometheus.Counter
	TranscriptionReconnects prometheus.Counter
	TranscriptionDuration   prometheus.Histogram

	// Assistant metrics
	Commands          *prometheus.CounterVec
	ChatNotifications *prometheus.CounterVec

	// Post-processing metrics
	PostProcessRuns *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics and registers them with reg
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetbot_sessions_started_total",
			Help: "Total number of meeting sessions started",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetbot_sessions_active",
			Help: "Current number of sessions that have not terminated",
		}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetbot_sessions_finished_total",
			Help: "Total number of finished sessions by final state",
		}, []string{"state"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetbot_session_duration_seconds",
			Help:    "Wall clock duration of sessions",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10), // 30s to ~4 hours
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetbot_session_state_transitions_total",
			Help: "Total number of lifecycle transitions by target state",
		}, []string{"state"}),

		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetbot_frames_captured_total",
			Help: "Total number of PCM frames read from capture devices",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetbot_frames_dropped_total",
			Help: "Total number of frames dropped because the frame queue was full",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetbot_frame_queue_depth",
			Help: "Frames waiting in the most recently sampled frame queue",
		}),

		VADChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetbot_vad_chunks_total",
			Help: "Total number of analysis chunks classified",
		}),
		VADSpeechChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetbot_vad_speech_chunks_total",
			Help: "Total number of analysis chunks classified as speech",
		}),
		SegmentsSealed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetbot_segments_sealed_total",
			Help: "Total number of speech segments sealed, by cause",
		}, []string{"cause"}),
		SegmentsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetbot_segments_discarded_total",
			Help: "Total number of segments discarded for being too short",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetbot_segment_duration_seconds",
			Help:    "Duration of sealed speech segments",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 7), // 0.5s to 32s
		}),

		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetbot_transcription_requests_total",
			Help: "Total number of transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetbot_transcription_failures_total",
			Help: "Total number of transcription requests that returned no text",
		}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetbot_transcription_retries_total",
			Help: "Total number of transcription retries after reconnecting",
		}),
		TranscriptionReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetbot_transcription_reconnects_total",
			Help: "Total number of transcription stream connections established",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetbot_transcription_duration_seconds",
			Help:    "Duration of transcription round trips",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),

		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetbot_commands_total",
			Help: "Total number of wake-word commands handled, by kind",
		}, []string{"kind"}),
		ChatNotifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetbot_chat_notifications_total",
			Help: "Total number of chat notifications sent, by result",
		}, []string{"result"}),

		PostProcessRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetbot_postprocess_runs_total",
			Help: "Total number of post-processing runs, by result",
		}, []string{"result"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetbot_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meetbot_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetbot_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted counts a new session
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionFinished records the final state and duration of a session
func (m *Metrics) RecordSessionFinished(state string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsFinished.WithLabelValues(state).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordStateTransition counts a lifecycle transition
func (m *Metrics) RecordStateTransition(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

// RecordFrameCaptured counts a captured frame, and a drop if it did not fit the queue
func (m *Metrics) RecordFrameCaptured(dropped bool) {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
	if dropped {
		m.FramesDropped.Inc()
	}
}

// SetQueueDepth sets the current frame queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordVADChunk counts a classified analysis chunk
func (m *Metrics) RecordVADChunk(speech bool) {
	if m == nil {
		return
	}
	m.VADChunks.Inc()
	if speech {
		m.VADSpeechChunks.Inc()
	}
}

// RecordSegmentSealed records a sealed segment
func (m *Metrics) RecordSegmentSealed(cause string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SegmentsSealed.WithLabelValues(cause).Inc()
	m.SegmentDuration.Observe(durationSeconds)
}

// RecordSegmentDiscarded counts a too-short segment
func (m *Metrics) RecordSegmentDiscarded() {
	if m == nil {
		return
	}
	m.SegmentsDiscarded.Inc()
}

// RecordTranscription records the outcome of one Transcribe call
func (m *Metrics) RecordTranscription(success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
	if !success {
		m.TranscriptionFailures.Inc()
	}
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordTranscriptionReconnect increments the connection counter
func (m *Metrics) RecordTranscriptionReconnect() {
	if m == nil {
		return
	}
	m.TranscriptionReconnects.Inc()
}

// RecordCommand counts a handled wake-word command
func (m *Metrics) RecordCommand(kind string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(kind).Inc()
}

// RecordChatNotification counts a chat send attempt
func (m *Metrics) RecordChatNotification(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.ChatNotifications.WithLabelValues(result).Inc()
}

// RecordPostProcess counts a post-processing run
func (m *Metrics) RecordPostProcess(result string) {
	if m == nil {
		return
	}
	m.PostProcessRuns.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
