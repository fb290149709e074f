package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Zmmoly/Rat50/internal/model"
)

// testEndpoint serves a two-class logits model that echoes the input length
// as the number of time steps
func testEndpoint(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireInfo{
			Name:    "echo",
			Inputs:  []wireTensorInfo{{Name: "audio", Shape: []int64{1, -1}, Type: "float32"}},
			Outputs: []wireTensorInfo{{Name: "ids", Shape: []int64{-1}, Type: "int64"}},
		})
	})
	mux.HandleFunc("/infer", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if calls.Add(1) <= failures {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		var in wireTensor
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "bad tensor", http.StatusBadRequest)
			return
		}
		out := wireTensor{Shape: []int64{int64(len(in.Data))}, Type: "int64"}
		for i := range in.Data {
			out.Data = append(out.Data, float64(i%3))
		}
		json.NewEncoder(w).Encode(out)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &calls
}

func testConfig(url string) Config {
	return Config{
		BaseURL:       url,
		APIKey:        "secret",
		Timeout:       5 * time.Second,
		MaxRetries:    2,
		MaxConcurrent: 2,
		Backoff:       time.Millisecond,
	}
}

func TestOpenFetchesSignature(t *testing.T) {
	server, _ := testEndpoint(t, 0)

	m, err := Opener(testConfig(""))(context.Background(), server.URL+"/")
	if err != nil {
		t.Fatalf("Failed to open remote model: %v", err)
	}
	defer m.Close()

	info := m.Info()
	if info.Name != "echo" {
		t.Errorf("Expected name echo, got %s", info.Name)
	}
	if len(info.Outputs) != 1 || info.Outputs[0].Type != model.Int64 {
		t.Errorf("Expected one int64 output, got %+v", info.Outputs)
	}

	p, err := model.DetectProfile(info, model.Overrides{})
	if err != nil {
		t.Fatalf("Failed to detect profile: %v", err)
	}
	if p.InputKind != model.InputRawAudio || p.OutputKind != model.OutputIndices {
		t.Errorf("Unexpected profile %s", p)
	}
}

type countingRecorder struct {
	requests, failures, retries int
}

func (r *countingRecorder) RecordRemoteRequest(_ time.Duration, err error) {
	r.requests++
	if err != nil {
		r.failures++
	}
}

func (r *countingRecorder) RecordRemoteRetry() {
	r.retries++
}

func TestRunRetriesServerErrors(t *testing.T) {
	server, calls := testEndpoint(t, 2)
	rec := &countingRecorder{}

	cfg := testConfig(server.URL)
	cfg.Recorder = rec
	c, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to open remote model: %v", err)
	}
	defer c.Close()

	out, err := c.Run(context.Background(), model.NewFloat32Tensor([]int64{1, 4}, []float32{0, 0.1, 0.2, 0.3}))
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	ids, ok := out.Ints()
	if !ok || len(ids) != 4 || ids[1] != 1 {
		t.Errorf("Unexpected output %+v", out)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}

	stats := c.GetStats()
	if stats.TotalRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", stats.TotalRetries)
	}
	if stats.SuccessRequests != 1 || stats.FailedRequests != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if rec.requests != 1 || rec.failures != 0 || rec.retries != 2 {
		t.Errorf("Unexpected recorder counts %+v", rec)
	}
}

func TestRunGivesUp(t *testing.T) {
	server, calls := testEndpoint(t, 10)

	c, err := Open(context.Background(), testConfig(server.URL))
	if err != nil {
		t.Fatalf("Failed to open remote model: %v", err)
	}
	defer c.Close()

	_, err = c.Run(context.Background(), model.NewFloat32Tensor([]int64{1}, []float32{0}))
	var se *statusError
	if !errors.As(err, &se) || se.code != http.StatusServiceUnavailable {
		t.Errorf("Expected a 503 status error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
	if c.GetStats().FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", c.GetStats().FailedRequests)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	server, calls := testEndpoint(t, 0)

	cfg := testConfig(server.URL)
	cfg.APIKey = "wrong"
	c, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to open remote model: %v", err)
	}
	defer c.Close()

	if _, err := c.Run(context.Background(), model.NewFloat32Tensor([]int64{1}, []float32{0})); err == nil {
		t.Fatal("Expected unauthorized error")
	}
	if calls.Load() != 0 {
		t.Errorf("Expected request to be rejected before counting, got %d calls", calls.Load())
	}
	if c.GetStats().TotalRetries != 0 {
		t.Errorf("Expected no retries, got %d", c.GetStats().TotalRetries)
	}
}

func TestCloseTwiceAndRunAfterClose(t *testing.T) {
	server, calls := testEndpoint(t, 0)

	c, err := Open(context.Background(), testConfig(server.URL))
	if err != nil {
		t.Fatalf("Failed to open remote model: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		if err := c.Close(); err != nil {
			done <- err
			return
		}
		done <- c.Close()
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil from Close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Second Close did not return")
	}

	runDone := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), model.NewFloat32Tensor([]int64{1}, []float32{0}))
		runDone <- err
	}()
	select {
	case err := <-runDone:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run after Close did not return")
	}
	if calls.Load() != 0 {
		t.Errorf("Expected no inference calls after Close, got %d", calls.Load())
	}
}

func TestOpenUnreachable(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.MaxRetries = 0
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatal("Expected error for unreachable endpoint")
	}
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("Expected error for empty base URL")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &statusError{code: 502}, true},
		{"rate limited", &statusError{code: 429}, true},
		{"bad request", &statusError{code: 400}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
