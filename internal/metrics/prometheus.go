package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice moderation service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	CaptureActive   prometheus.Gauge

	// Segment metrics
	SegmentsCaptured prometheus.Counter
	SegmentsDropped  *prometheus.CounterVec
	SegmentSize      prometheus.Histogram

	// Conversion metrics
	Conversions        *prometheus.CounterVec
	ConversionDuration prometheus.Histogram

	// Queue metrics
	QueueDepth prometheus.Gauge

	// Transcription metrics
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter
	Utterances             prometheus.Counter

	// Moderation metrics
	Violations *prometheus.CounterVec
	Removals   *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "moderation_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "moderation_sessions_stopped_total",
			Help: "Total number of recording sessions stopped",
		}),
		CaptureActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "moderation_capture_active",
			Help: "1 while a segment writer is armed, 0 otherwise",
		}),

		// Segment metrics
		SegmentsCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "moderation_segments_captured_total",
			Help: "Total number of segments finalized with enough payload",
		}),
		SegmentsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_segments_dropped_total",
			Help: "Total number of segments discarded before transcription",
		}, []string{"reason"}),
		SegmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "moderation_segment_size_bytes",
			Help:    "Size of captured raw segments in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~8MB
		}),

		// Conversion metrics
		Conversions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_conversions_total",
			Help: "Total number of raw to WAV conversions by result",
		}, []string{"result"}),
		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "moderation_conversion_duration_seconds",
			Help:    "Duration of raw to WAV conversions",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),

		// Queue metrics
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "moderation_queue_depth",
			Help: "Current number of segments waiting for transcription",
		}),

		// Transcription metrics
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "moderation_transcription_successes_total",
			Help: "Total number of successful transcriptions",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "moderation_transcription_failures_total",
			Help: "Total number of failed transcriptions",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "moderation_transcription_duration_seconds",
			Help:    "Duration of transcriptions",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 11), // 100ms to ~2 minutes
		}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "moderation_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),
		Utterances: factory.NewCounter(prometheus.CounterOpts{
			Name: "moderation_utterances_total",
			Help: "Total number of utterances evaluated",
		}),

		// Moderation metrics
		Violations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_violations_total",
			Help: "Total number of denylist matches by term",
		}, []string{"term"}),
		Removals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_removals_total",
			Help: "Total number of participant removals by result",
		}, []string{"result"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moderation_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordSessionStopped increments the sessions stopped counter
func (m *Metrics) RecordSessionStopped() {
	if m == nil {
		return
	}
	m.SessionsStopped.Inc()
}

// SetCaptureActive flips the active capture gauge
func (m *Metrics) SetCaptureActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.CaptureActive.Set(1)
	} else {
		m.CaptureActive.Set(0)
	}
}

// RecordSegmentCaptured records a finalized segment and its size
func (m *Metrics) RecordSegmentCaptured(sizeBytes int64) {
	if m == nil {
		return
	}
	m.SegmentsCaptured.Inc()
	m.SegmentSize.Observe(float64(sizeBytes))
}

// RecordSegmentDropped records a discarded segment
func (m *Metrics) RecordSegmentDropped(reason string) {
	if m == nil {
		return
	}
	m.SegmentsDropped.WithLabelValues(reason).Inc()
}

// RecordConversion records a conversion attempt
func (m *Metrics) RecordConversion(ok bool, durationSeconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.Conversions.WithLabelValues(result).Inc()
	m.ConversionDuration.Observe(durationSeconds)
}

// SetQueueDepth sets the current queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64, utterances int) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	m.Utterances.Add(float64(utterances))
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordViolation increments the violation counter for each matched term
func (m *Metrics) RecordViolation(terms []string) {
	if m == nil {
		return
	}
	for _, term := range terms {
		m.Violations.WithLabelValues(term).Inc()
	}
}

// RecordRemoval records a participant removal attempt
func (m *Metrics) RecordRemoval(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.Removals.WithLabelValues(result).Inc()
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
