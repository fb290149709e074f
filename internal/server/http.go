package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Zmmoly/Rat50/internal/capture"
	"github.com/Zmmoly/Rat50/internal/config"
	"github.com/Zmmoly/Rat50/internal/metrics"
	"github.com/Zmmoly/Rat50/internal/stream"
	"github.com/Zmmoly/Rat50/internal/transcript"
)

// Session is the part of stream.Session the API drives
type Session interface {
	ID() string
	State() stream.State
	GetStats() stream.SessionStats
	LoadModel(ctx context.Context, path string) error
	Start(ctx context.Context, factory capture.Factory) error
	Stop(ctx context.Context) error
}

// TranscriptLister reads archived transcripts
type TranscriptLister interface {
	List(ctx context.Context, sessionID string, limit int) ([]transcript.Transcript, error)
}

// Dependencies are the components served by the HTTP API. Transcripts and
// Hub are optional.
type Dependencies struct {
	Config      *config.Config
	Session     Session
	Factory     capture.Factory
	Transcripts TranscriptLister
	Hub         *EventHub
	Metrics     *metrics.Metrics
}

// HTTPServer provides HTTP API endpoints for control and monitoring
type HTTPServer struct {
	server *http.Server
	logger *slog.Logger
	deps   Dependencies

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, deps Dependencies) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		deps:      deps,
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

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/session/model", h.withMetrics("/session/model", h.handleLoadModel))
	mux.HandleFunc("/session/start", h.withMetrics("/session/start", h.handleStart))
	mux.HandleFunc("/session/stop", h.withMetrics("/session/stop", h.handleStop))

	mux.HandleFunc("/transcripts", h.withMetrics("/transcripts", h.handleTranscripts))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// The websocket upgrade needs the raw ResponseWriter.
	if h.deps.Hub != nil {
		mux.Handle("/events", h.deps.Hub)
	}

	mux.Handle("/metrics", h.deps.Metrics.Handler())

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
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

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	if h.deps.Hub != nil {
		h.deps.Hub.Close()
	}
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps session errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, stream.ErrInvalidState), errors.Is(err, stream.ErrNoModel):
		return http.StatusConflict
	case errors.Is(err, stream.ErrClosed), errors.Is(err, capture.ErrDeviceInit):
		return http.StatusServiceUnavailable
	case errors.Is(err, config.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

func (h *HTTPServer) writeSessionError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	h.logger.Warn("Session request failed",
		slog.String("operation", op),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"state": h.deps.Session.State(),
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.deps.Session.GetStats()
	components := map[string]any{
		"session": map[string]any{
			"id":               stats.ID,
			"state":            stats.State,
			"model_loaded":     stats.Model != nil,
			"frames_processed": stats.FramesProcessed,
			"frame_errors":     stats.FrameErrors,
		},
		"transcripts": map[string]any{
			"enabled": h.deps.Transcripts != nil,
		},
	}
	if h.deps.Hub != nil {
		components["events"] = h.deps.Hub.GetStats()
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "speech-stream",
			"version": "1.0.0",
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleSession implements the /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.deps.Session.GetStats())
}

type loadModelRequest struct {
	Path string `json:"path"`
}

// handleLoadModel implements the /session/model endpoint
func (h *HTTPServer) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loadModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "Model path required", http.StatusBadRequest)
		return
	}

	if err := h.deps.Session.LoadModel(r.Context(), req.Path); err != nil {
		h.writeSessionError(w, "load_model", err)
		return
	}

	writeJSON(w, http.StatusOK, h.deps.Session.GetStats())
}

// handleStart implements the /session/start endpoint
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.deps.Session.Start(r.Context(), h.deps.Factory); err != nil {
		h.writeSessionError(w, "start", err)
		return
	}

	writeJSON(w, http.StatusAccepted, h.deps.Session.GetStats())
}

// handleStop implements the /session/stop endpoint
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.deps.Session.Stop(r.Context()); err != nil {
		h.writeSessionError(w, "stop", err)
		return
	}

	writeJSON(w, http.StatusOK, h.deps.Session.GetStats())
}

// handleTranscripts implements the /transcripts endpoint
func (h *HTTPServer) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.deps.Transcripts == nil {
		http.Error(w, "Transcript store disabled", http.StatusNotFound)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessionID := r.URL.Query().Get("session")
	items, err := h.deps.Transcripts.List(r.Context(), sessionID, limit)
	if err != nil {
		h.logger.Error("Failed to list transcripts", slog.String("error", err.Error()))
		http.Error(w, "Failed to list transcripts", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []transcript.Transcript{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":       len(items),
		"timestamp":   time.Now().UTC(),
		"transcripts": items,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := h.deps.Config
	sanitizedConfig := map[string]any{
		"audio":        c.Audio,
		"windowing":    c.Windowing,
		"features":     c.Features,
		"segmentation": c.Segmentation,
		"model": map[string]any{
			"path":             c.Model.Path,
			"vocabulary_path":  c.Model.VocabularyPath,
			"output_kind":      c.Model.OutputKind,
			"blank_position":   c.Model.BlankPosition,
			"index_offset":     c.Model.IndexOffset,
			"input_kind":       c.Model.InputKind,
			"required_samples": c.Model.RequiredSamples,
			"remote": map[string]any{
				"timeout":        c.Model.Remote.Timeout,
				"max_retries":    c.Model.Remote.MaxRetries,
				"max_concurrent": c.Model.Remote.MaxConcurrent,
				// api_key omitted
			},
		},
		"capture": c.Capture,
		"transcripts": map[string]any{
			"store_enabled": c.Transcripts.StorePath != "",
			"nats_subject":  c.Transcripts.NATSSubject,
			"nats_enabled":  c.Transcripts.NATSURL != "",
			"wav_dir":       c.Transcripts.WAVDir,
		},
		"logging": c.Logging,
		"tracing": map[string]any{
			"exporter":     c.Tracing.Exporter,
			"service_name": c.Tracing.ServiceName,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
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

	apiDoc := map[string]any{
		"service": "Streaming Speech Recognition Service",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":               "API documentation",
			"GET /health":         "Service health check",
			"GET /session":        "Session state and statistics",
			"POST /session/model": "Load a model: {\"path\": \"...\"}",
			"POST /session/start": "Start recording",
			"POST /session/stop":  "Stop recording and flush the last frame",
			"GET /events":         "Websocket stream of session events",
			"GET /transcripts":    "Archived transcripts (?session=&limit=)",
			"GET /config":         "Service configuration",
			"GET /metrics":        "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
