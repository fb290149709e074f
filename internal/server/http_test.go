package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Zmmoly/Rat50/internal/capture"
	"github.com/Zmmoly/Rat50/internal/config"
	"github.com/Zmmoly/Rat50/internal/metrics"
	"github.com/Zmmoly/Rat50/internal/stream"
	"github.com/Zmmoly/Rat50/internal/transcript"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSession struct {
	state      stream.State
	loaded     string
	loadErr    error
	startErr   error
	stopErr    error
	gotFactory bool
}

func (s *fakeSession) ID() string          { return "session-1" }
func (s *fakeSession) State() stream.State { return s.state }

func (s *fakeSession) GetStats() stream.SessionStats {
	return stream.SessionStats{ID: "session-1", State: s.state}
}

func (s *fakeSession) LoadModel(ctx context.Context, path string) error {
	if s.loadErr != nil {
		return s.loadErr
	}
	s.loaded = path
	s.state = stream.StateReady
	return nil
}

func (s *fakeSession) Start(ctx context.Context, factory capture.Factory) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.gotFactory = factory != nil
	s.state = stream.StateRecording
	return nil
}

func (s *fakeSession) Stop(ctx context.Context) error {
	if s.stopErr != nil {
		return s.stopErr
	}
	s.state = stream.StateReady
	return nil
}

type fakeLister struct {
	items     []transcript.Transcript
	err       error
	sessionID string
	limit     int
}

func (l *fakeLister) List(ctx context.Context, sessionID string, limit int) ([]transcript.Transcript, error) {
	l.sessionID = sessionID
	l.limit = limit
	return l.items, l.err
}

func newTestServer(session Session, lister TranscriptLister) (*HTTPServer, *metrics.Metrics) {
	m := metrics.NewMetrics()
	deps := Dependencies{
		Config:  config.Default(),
		Session: session,
		Factory: func() (capture.Device, error) { return nil, errors.New("unused") },
		Hub:     NewEventHub(newLogger()),
		Metrics: m,
	}
	if lister != nil {
		deps.Transcripts = lister
	}
	return NewHTTPServer(config.Default().HTTP, newLogger(), deps), m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	session := &fakeSession{state: stream.StateIdle}
	srv, m := newTestServer(session, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/session/model", `{"path": "/models/asr.onnx"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from load, got %d: %s", rec.Code, rec.Body.String())
	}
	if session.loaded != "/models/asr.onnx" {
		t.Errorf("Expected model path to be passed through, got %q", session.loaded)
	}

	rec = do(t, h, http.MethodPost, "/session/start", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202 from start, got %d", rec.Code)
	}
	if !session.gotFactory {
		t.Error("Expected the configured device factory to be used")
	}

	rec = do(t, h, http.MethodGet, "/session", "")
	var stats stream.SessionStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.State != stream.StateRecording {
		t.Errorf("Expected recording state, got %s", stats.State)
	}

	rec = do(t, h, http.MethodPost, "/session/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from stop, got %d", rec.Code)
	}
	if session.state != stream.StateReady {
		t.Errorf("Expected ready after stop, got %s", session.state)
	}

	got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodPost, "/session/start", "202"))
	if got != 1 {
		t.Errorf("Expected one recorded start request, got %f", got)
	}
}

func TestSessionErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		setup  func(*fakeSession)
		status int
	}{
		{
			name:   "start without model",
			path:   "/session/start",
			setup:  func(s *fakeSession) { s.startErr = stream.ErrNoModel },
			status: http.StatusConflict,
		},
		{
			name:   "stop while idle",
			path:   "/session/stop",
			setup:  func(s *fakeSession) { s.stopErr = fmt.Errorf("%w: not recording", stream.ErrInvalidState) },
			status: http.StatusConflict,
		},
		{
			name:   "device failure",
			path:   "/session/start",
			setup:  func(s *fakeSession) { s.startErr = fmt.Errorf("%w: no microphone", capture.ErrDeviceInit) },
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "model load failure",
			path:   "/session/model",
			body:   `{"path": "missing.onnx"}`,
			setup:  func(s *fakeSession) { s.loadErr = errors.New("open missing.onnx: no such file") },
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "configuration mismatch",
			path:   "/session/model",
			body:   `{"path": "wide.onnx"}`,
			setup:  func(s *fakeSession) { s.loadErr = fmt.Errorf("%w: 128 mel bins", config.ErrConfiguration) },
			status: http.StatusBadRequest,
		},
		{
			name:   "missing model path",
			path:   "/session/model",
			body:   `{}`,
			setup:  func(s *fakeSession) {},
			status: http.StatusBadRequest,
		},
		{
			name:   "malformed body",
			path:   "/session/model",
			body:   `{"path":`,
			setup:  func(s *fakeSession) {},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &fakeSession{state: stream.StateIdle}
			tt.setup(session)
			srv, _ := newTestServer(session, nil)

			rec := do(t, srv.Handler(), http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(&fakeSession{}, nil)
	h := srv.Handler()

	for _, path := range []string{"/session/start", "/session/stop", "/session/model"} {
		if rec := do(t, h, http.MethodGet, path, ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s: expected 405, got %d", path, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodPost, "/session", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /session: expected 405, got %d", rec.Code)
	}
}

func TestTranscriptsEndpoint(t *testing.T) {
	lister := &fakeLister{items: []transcript.Transcript{
		{ID: "u2", SessionID: "s1", Text: "b"},
		{ID: "u1", SessionID: "s1", Text: "a"},
	}}
	srv, _ := newTestServer(&fakeSession{}, lister)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/transcripts?session=s1&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body struct {
		Count       int                     `json:"count"`
		Transcripts []transcript.Transcript `json:"transcripts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || body.Transcripts[0].ID != "u2" {
		t.Errorf("Unexpected body %+v", body)
	}
	if lister.sessionID != "s1" || lister.limit != 5 {
		t.Errorf("Expected session s1 limit 5, got %q %d", lister.sessionID, lister.limit)
	}

	if rec := do(t, h, http.MethodGet, "/transcripts?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero limit, got %d", rec.Code)
	}

	lister.err = errors.New("disk I/O error")
	if rec := do(t, h, http.MethodGet, "/transcripts", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 on store failure, got %d", rec.Code)
	}
}

func TestTranscriptsDisabled(t *testing.T) {
	srv, _ := newTestServer(&fakeSession{}, nil)
	if rec := do(t, srv.Handler(), http.MethodGet, "/transcripts", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without a store, got %d", rec.Code)
	}
}

func TestHealthAndConfig(t *testing.T) {
	srv, _ := newTestServer(&fakeSession{state: stream.StateReady}, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var health map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", health["status"])
	}

	rec = do(t, h, http.MethodGet, "/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "api_key") {
		t.Error("Expected api_key to be omitted from /config")
	}

	if rec := do(t, h, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from /metrics, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown path, got %d", rec.Code)
	}
}
