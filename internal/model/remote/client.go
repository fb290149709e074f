// Package remote runs acoustic models hosted behind an HTTP inference
// endpoint.
//
// The endpoint exposes two routes under its base URL:
//
//	GET  {base}/info   model signature
//	POST {base}/infer  one tensor in, one tensor out
//
// Tensors travel as JSON objects {"shape": [...], "type": "float32", "data": [...]}.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Zmmoly/Rat50/internal/model"
)

// ErrClosed is returned by Run after Close
var ErrClosed = errors.New("remote model closed")

// Config contains remote backend configuration
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	Backoff       time.Duration // first retry delay, doubled per attempt
	Recorder      Recorder      // optional
}

// Recorder receives per-request measurements
type Recorder interface {
	RecordRemoteRequest(duration time.Duration, err error)
	RecordRemoteRetry()
}

// Client is a model.Model backed by an HTTP endpoint
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{}
	info       model.Info

	done      chan struct{}
	closeOnce sync.Once

	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

type wireTensorInfo struct {
	Name  string  `json:"name"`
	Shape []int64 `json:"shape"`
	Type  string  `json:"type"`
}

type wireInfo struct {
	Name    string           `json:"name"`
	Inputs  []wireTensorInfo `json:"inputs"`
	Outputs []wireTensorInfo `json:"outputs"`
}

type wireTensor struct {
	Shape []int64   `json:"shape"`
	Type  string    `json:"type"`
	Data  []float64 `json:"data"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.code, e.body)
}

// Opener returns a model.OpenFunc that fills BaseURL from the model path
func Opener(cfg Config) model.OpenFunc {
	return func(ctx context.Context, path string) (model.Model, error) {
		c := cfg
		c.BaseURL = path
		return Open(ctx, c)
	}
}

// Open creates a client and fetches the model signature
func Open(ctx context.Context, config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}

	c := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		semaphore: make(chan struct{}, config.MaxConcurrent),
		done:      make(chan struct{}),
	}

	var info wireInfo
	if err := c.withRetries(ctx, func() error {
		return c.do(ctx, http.MethodGet, "/info", nil, &info)
	}); err != nil {
		return nil, fmt.Errorf("fetch model info: %w", err)
	}

	c.info = model.Info{Name: info.Name}
	if c.info.Name == "" {
		c.info.Name = config.BaseURL
	}
	for _, in := range info.Inputs {
		c.info.Inputs = append(c.info.Inputs, in.toModel())
	}
	for _, out := range info.Outputs {
		c.info.Outputs = append(c.info.Outputs, out.toModel())
	}
	return c, nil
}

func (w wireTensorInfo) toModel() model.TensorInfo {
	return model.TensorInfo{Name: w.Name, Shape: w.Shape, Type: model.ParseElementType(w.Type)}
}

// Info returns the model signature reported by the endpoint
func (c *Client) Info() model.Info {
	return c.info
}

// Run sends one tensor for inference
func (c *Client) Run(ctx context.Context, input model.Tensor) (model.Tensor, error) {
	select {
	case <-c.done:
		return model.Tensor{}, ErrClosed
	default:
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-c.done:
		return model.Tensor{}, ErrClosed
	case <-ctx.Done():
		return model.Tensor{}, ctx.Err()
	}

	req := wireTensor{Shape: input.Shape, Type: input.Type.String()}
	for _, v := range input.Floats() {
		req.Data = append(req.Data, float64(v))
	}

	startTime := time.Now()
	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()

	var resp wireTensor
	err := c.withRetries(ctx, func() error {
		return c.do(ctx, http.MethodPost, "/infer", req, &resp)
	})
	if c.config.Recorder != nil {
		c.config.Recorder.RecordRemoteRequest(time.Since(startTime), err)
	}
	if err != nil {
		c.mu.Lock()
		c.failedRequests++
		c.mu.Unlock()
		return model.Tensor{}, err
	}

	c.recordSuccess(time.Since(startTime))
	return resp.toModel()
}

func (w wireTensor) toModel() (model.Tensor, error) {
	out := model.Tensor{Shape: w.Shape, Type: model.ParseElementType(w.Type)}
	switch out.Type {
	case model.Float32:
		out.Float32 = make([]float32, len(w.Data))
		for i, v := range w.Data {
			out.Float32[i] = float32(v)
		}
	case model.Int32:
		out.Int32 = make([]int32, len(w.Data))
		for i, v := range w.Data {
			out.Int32[i] = int32(v)
		}
	case model.Int64:
		out.Int64 = make([]int64, len(w.Data))
		for i, v := range w.Data {
			out.Int64[i] = int64(v)
		}
	default:
		return model.Tensor{}, fmt.Errorf("unsupported output type %q", w.Type)
	}
	return out, nil
}

func (c *Client) withRetries(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.mu.Lock()
			c.totalRetries++
			c.mu.Unlock()
			if c.config.Recorder != nil {
				c.config.Recorder.RecordRemoteRetry()
			}

			backoff := c.config.Backoff * time.Duration(math.Pow(2, float64(attempt-1)))
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	return fmt.Errorf("remote inference failed: %w", lastErr)
}

func (c *Client) do(ctx context.Context, method, route string, body, dst any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+route, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}

	if err := json.Unmarshal(respBody, dst); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return nil
}

// isRetryable accepts server errors, rate limiting and transport timeouts
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}

func (c *Client) recordSuccess(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
	if c.avgResponseTime == 0 {
		c.avgResponseTime = d
	} else {
		c.avgResponseTime = (c.avgResponseTime + d) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close rejects new requests, waits for in-flight ones and releases idle
// connections. Calling it again is a no-op.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		for i := 0; i < cap(c.semaphore); i++ {
			c.semaphore <- struct{}{}
		}
		c.httpClient.CloseIdleConnections()
	})
	return nil
}
