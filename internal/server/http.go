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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/config"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/metrics"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/session"
)

// Version is reported by the health and root endpoints
var Version = "dev"

// HTTPServer provides the session API and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	sessions *session.Manager
	metrics  *metrics.Metrics

	startTime time.Time
}

// StartRequest is the body of POST /sessions
type StartRequest struct {
	Room              string `json:"room"`
	AccountID         string `json:"account_id"`
	TimeBudgetSeconds int    `json:"time_budget_seconds"`
}

// StartResponse is returned when a session is created
type StartResponse struct {
	SessionID string `json:"session_id"`
	Room      string `json:"room"`
	State     string `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPServer creates the API server. m may be nil.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, sessions *session.Manager, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		sessions:  sessions,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// no request metrics for the scrape endpoint itself
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

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

// Start starts the HTTP server in the background
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to write response", slog.String("error", err.Error()))
	}
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.sessions.GetStats()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "meetbot",
			"version": Version,
		},
		"sessions": map[string]any{
			"active": stats.ActiveSessions,
			"limit":  stats.MaxSessions,
		},
	})
}

// handleSessions implements GET and POST /sessions
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		infos := h.sessions.List()
		h.writeJSON(w, http.StatusOK, map[string]any{
			"total_sessions": len(infos),
			"timestamp":      time.Now().UTC(),
			"sessions":       infos,
		})
	case http.MethodPost:
		h.startSession(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPServer) startSession(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Room = strings.TrimSpace(req.Room)
	if req.Room == "" {
		h.writeError(w, http.StatusBadRequest, "room is required")
		return
	}
	if req.TimeBudgetSeconds < 0 {
		h.writeError(w, http.StatusBadRequest, "time_budget_seconds cannot be negative")
		return
	}
	if req.TimeBudgetSeconds == 0 && h.config != nil {
		req.TimeBudgetSeconds = h.config.Session.DefaultTimeBudget
	}

	controller, err := h.sessions.Start(session.Request{
		Room:       req.Room,
		AccountID:  req.AccountID,
		TimeBudget: time.Duration(req.TimeBudgetSeconds) * time.Second,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrSessionExists):
			status = http.StatusConflict
		case errors.Is(err, session.ErrTooManySessions):
			status = http.StatusTooManyRequests
		case errors.Is(err, session.ErrShuttingDown):
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn("Failed to start session",
			slog.String("room", req.Room),
			slog.String("error", err.Error()),
		)
		h.writeError(w, status, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, StartResponse{
		SessionID: controller.ID(),
		Room:      req.Room,
		State:     controller.State().String(),
	})
}

// handleSessionDetail implements /sessions/{id} and /sessions/{id}/transcript
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(r.URL.Path[len("/sessions/"):], "/")
	if rest == "" {
		h.writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	id, sub, _ := strings.Cut(rest, "/")
	switch sub {
	case "":
	case "transcript":
		h.handleTranscript(w, r, id)
		return
	default:
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if c, ok := h.sessions.Get(id); ok {
			h.writeJSON(w, http.StatusOK, c.Info())
			return
		}
		if result, ok := h.sessions.Result(id); ok {
			h.writeJSON(w, http.StatusOK, result)
			return
		}
		h.writeError(w, http.StatusNotFound, "session not found")

	case http.MethodDelete:
		if err := h.sessions.StopSession(id, "stopped via api"); err != nil {
			h.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.writeJSON(w, http.StatusAccepted, map[string]string{
			"session_id": id,
			"status":     "stopping",
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c, ok := h.sessions.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	fmt.Fprint(w, c.Transcript().Markdown())
}

// handleConfig implements the /config endpoint. Secrets are omitted.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config == nil {
		h.writeError(w, http.StatusNotFound, "configuration unavailable")
		return
	}

	c := h.config
	h.writeJSON(w, http.StatusOK, map[string]any{
		"audio": map[string]any{
			"sample_rate":       c.Audio.SampleRate,
			"frame_duration_ms": c.Audio.FrameDurationMs,
			"capture_command":   c.Audio.CaptureCommand,
			"queue_size":        c.Audio.QueueSize,
			"provision_device":  c.Audio.ProvisionDevice,
		},
		"vad": map[string]any{
			"threshold":           c.VAD.Threshold,
			"chunk_size":          c.VAD.ChunkSize,
			"smoothing_window":    c.VAD.SmoothingWindow,
			"silence_duration_ms": c.VAD.SilenceDurationMs,
			"max_speech_duration": c.VAD.MaxSpeechDuration,
			"min_speech_duration": c.VAD.MinSpeechDuration,
		},
		"transcription": map[string]any{
			"url":               c.Transcription.URL,
			"encoding":          c.Transcription.Encoding,
			"handshake_timeout": c.Transcription.HandshakeTimeout,
			"response_timeout":  c.Transcription.ResponseTimeout,
		},
		"session": map[string]any{
			"max_concurrent_sessions": c.Session.MaxConcurrentSessions,
			"join_timeout":            c.Session.JoinTimeout,
			"monitor_interval":        c.Session.MonitorInterval,
			"default_time_budget":     c.Session.DefaultTimeBudget,
			"warning_thresholds":      c.Session.WarningThresholds,
		},
		"meeting": map[string]any{
			"url":      c.Meeting.URL,
			"identity": c.Meeting.Identity,
		},
		"assistant": map[string]any{
			"enabled":    c.Assistant.Enabled,
			"wake_words": c.Assistant.WakeWords,
		},
		"llm": map[string]any{
			"model": c.LLM.Model,
		},
		"knowledge": map[string]any{
			"backend": c.Knowledge.Backend,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions":  h.sessions.GetStats(),
	})
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

	h.writeJSON(w, http.StatusOK, map[string]any{
		"service": "Meeting Assistant Bot",
		"version": Version,
		"endpoints": map[string]string{
			"GET /":                         "API documentation",
			"GET /health":                   "Service health check",
			"GET /sessions":                 "List running sessions",
			"POST /sessions":                "Start a session for a room",
			"GET /sessions/{id}":            "Running session snapshot or finished session result",
			"GET /sessions/{id}/transcript": "Transcript of a running session",
			"DELETE /sessions/{id}":         "Ask a session to leave",
			"GET /config":                   "Service configuration without secrets",
			"GET /stats":                    "Registry statistics",
			"GET /metrics":                  "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
