package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voice-moderation-service/internal/config"
	"github.com/skypro1111/voice-moderation-service/internal/metrics"
	"github.com/skypro1111/voice-moderation-service/internal/queue"
	"github.com/skypro1111/voice-moderation-service/internal/session"
	"github.com/skypro1111/voice-moderation-service/internal/transcription"
)

const (
	msgStarted         = "Started recording."
	msgStopped         = "Stopped recording."
	msgNotInVoice      = "Target user is not in a voice channel."
	msgAlreadyTemplate = "%s is already being recorded."
	msgStartFailed     = "Failed to start recording."
	msgTargetRequired  = "A target is required."
)

// Recorder is the session controller as seen by the command surface
type Recorder interface {
	Start(ctx context.Context, target string) error
	Stop()
	Status() session.Snapshot
}

// QueueStats exposes transcription queue counters
type QueueStats interface {
	GetStats() queue.Stats
}

// TranscriptionStats exposes remote transcription client counters
type TranscriptionStats interface {
	GetStats() transcription.ClientStats
}

// HTTPServer provides the command surface and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	recorder Recorder
	queue    QueueStats
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	client   TranscriptionStats

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. A nil gatherer serves the default registry.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, recorder Recorder, q QueueStats, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		recorder:  recorder,
		queue:     q,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// SetTranscriptionStats adds the remote transcription client counters to /stats
func (h *HTTPServer) SetTranscriptionStats(client TranscriptionStats) {
	h.client = client
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Commands
	mux.HandleFunc("/record", h.withMetrics("/record", h.handleRecord))
	mux.HandleFunc("/stoprecord", h.withMetrics("/stoprecord", h.handleStopRecord))

	// Monitoring
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (h *HTTPServer) Run(ctx context.Context) error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	h.logger.Info("Stopping HTTP API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.server.Shutdown(shutdownCtx)
}

type recordRequest struct {
	Target string `json:"target"`
}

type messageResponse struct {
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// handleRecord implements POST /record
func (h *HTTPServer) handleRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	target := r.URL.Query().Get("target")
	if target == "" && r.ContentLength != 0 {
		var req recordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid request body."})
			return
		}
		target = req.Target
	}
	target = strings.TrimSpace(target)

	if target == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: msgTargetRequired})
		return
	}

	err := h.recorder.Start(r.Context(), target)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, messageResponse{Message: msgStarted, Target: target})
	case errors.Is(err, session.ErrAlreadyRecording):
		writeJSON(w, http.StatusConflict, messageResponse{Message: fmt.Sprintf(msgAlreadyTemplate, target), Target: target})
	case errors.Is(err, session.ErrTargetUnavailable):
		writeJSON(w, http.StatusNotFound, messageResponse{Message: msgNotInVoice, Target: target})
	default:
		h.logger.Error("Failed to start recording",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: msgStartFailed, Target: target})
	}
}

// handleStopRecord implements POST /stoprecord
func (h *HTTPServer) handleStopRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.recorder.Stop()
	writeJSON(w, http.StatusOK, messageResponse{Message: msgStopped})
}

// handleSession implements GET /session
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.recorder.Status())
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.recorder.Status()
	queueStats := h.queue.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "voice-moderation-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"session": map[string]interface{}{
				"phase":  status.Phase,
				"target": status.Target,
			},
			"queue": map[string]interface{}{
				"pending": queueStats.Pending,
				"busy":    queueStats.Busy,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint. Secrets are omitted.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sanitizedConfig := map[string]interface{}{
		"platform": map[string]interface{}{
			"url":            h.config.Platform.URL,
			"identity":       h.config.Platform.Identity,
			"rooms":          h.config.Platform.Rooms,
			"ready_timeout":  h.config.Platform.ReadyTimeout,
			"remove_timeout": h.config.Platform.RemoveTimeout,
		},
		"capture": map[string]interface{}{
			"recordings_dir":       h.config.Capture.RecordingsDir,
			"sample_rate":          h.config.Capture.SampleRate,
			"channels":             h.config.Capture.Channels,
			"silence_duration_ms":  h.config.Capture.SilenceDurationMs,
			"max_segment_duration": h.config.Capture.MaxSegmentDuration,
			"min_payload_bytes":    h.config.Capture.MinPayloadBytes,
			"vad_threshold":        h.config.Capture.VADThreshold,
		},
		"converter": map[string]interface{}{
			"backend":       h.config.Converter.Backend,
			"timeout":       h.config.Converter.Timeout,
			"retain_failed": h.config.Converter.RetainFailed,
		},
		"transcription": map[string]interface{}{
			"backend":          h.config.Transcription.Backend,
			"command":          h.config.Transcription.Command,
			"downmix":          h.config.Transcription.Downmix,
			"mono_sample_rate": h.config.Transcription.MonoSampleRate,
			"endpoint":         h.config.Transcription.Endpoint,
			"timeout":          h.config.Transcription.Timeout,
			"max_retries":      h.config.Transcription.MaxRetries,
		},
		"moderation": map[string]interface{}{
			"denylist_terms": len(h.config.Moderation.Denylist),
			"removal_reason": h.config.Moderation.RemovalReason,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"session":   h.recorder.Status(),
		"queue":     h.queue.GetStats(),
	}
	if h.client != nil {
		stats["transcription"] = h.client.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Voice Moderation Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":            "API documentation",
			"POST /record":     "Start recording a target ({\"target\": \"<identity>\"})",
			"POST /stoprecord": "Stop recording",
			"GET /session":     "Current recording session",
			"GET /health":      "Service health check",
			"GET /config":      "Get service configuration",
			"GET /stats":       "Get service statistics",
			"GET /metrics":     "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
