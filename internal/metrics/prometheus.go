package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// sessionStates lists every label value of the state gauge
var sessionStates = []string{"idle", "model_loading", "ready", "recording", "stopping"}

// Metrics contains all Prometheus metrics for the speech service
type Metrics struct {
	registry *prometheus.Registry

	// Pipeline metrics
	FramesProcessed  prometheus.Counter
	FrameErrors      prometheus.Counter
	InferenceLatency prometheus.Histogram
	DecodeResults    *prometheus.CounterVec
	Utterances       *prometheus.CounterVec
	Volume           prometheus.Gauge

	// Session metrics
	SessionState *prometheus.GaugeVec
	Errors       *prometheus.CounterVec

	// UDP capture metrics
	PacketsReceived *prometheus.CounterVec
	PacketErrors    *prometheus.CounterVec

	// Remote inference metrics
	RemoteRequests prometheus.Counter
	RemoteFailures prometheus.Counter
	RemoteDuration prometheus.Histogram
	RemoteRetries  prometheus.Counter

	// Transcript sink metrics
	TranscriptsHandled *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics on a fresh registry that also carries the
// Go runtime and process collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newMetrics(reg)
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		// Pipeline metrics
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_frames_processed_total",
			Help: "Total number of audio frames run through the pipeline",
		}),
		FrameErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_frame_errors_total",
			Help: "Total number of frames that failed feature extraction or inference",
		}),
		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_frame_duration_seconds",
			Help:    "Time spent extracting features, running the model and decoding one frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),
		DecodeResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_decode_results_total",
			Help: "Decoded frames by whether they produced text",
		}, []string{"result"}),
		Utterances: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_utterances_total",
			Help: "Completed utterances by end reason",
		}, []string{"reason"}),
		Volume: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asr_input_volume",
			Help: "RMS volume of the last captured block, 0 to 1",
		}),

		// Session metrics
		SessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "asr_session_state",
			Help: "1 for the current session state, 0 otherwise",
		}, []string{"state"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_session_errors_total",
			Help: "Session error events by kind",
		}, []string{"kind"}),

		// UDP capture metrics
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_udp_packets_total",
			Help: "Accepted UDP capture packets by type",
		}, []string{"type"}),
		PacketErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_udp_packet_errors_total",
			Help: "Rejected UDP capture packets by reason",
		}, []string{"reason"}),

		// Remote inference metrics
		RemoteRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_remote_requests_total",
			Help: "Total number of remote inference requests",
		}),
		RemoteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_remote_failures_total",
			Help: "Total number of remote inference requests that failed after retries",
		}),
		RemoteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_remote_request_duration_seconds",
			Help:    "Duration of remote inference requests including retries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		RemoteRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_remote_retries_total",
			Help: "Total number of remote inference retries",
		}),

		// Transcript sink metrics
		TranscriptsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_transcripts_total",
			Help: "Final transcripts handled by sink and outcome",
		}, []string{"sink", "outcome"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Registry returns the registry holding every metric
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordFrame counts a processed frame and observes its duration
func (m *Metrics) RecordFrame(duration time.Duration, err error) {
	m.FramesProcessed.Inc()
	m.InferenceLatency.Observe(duration.Seconds())
	if err != nil {
		m.FrameErrors.Inc()
	}
}

// RecordDecode counts a decoded frame
func (m *Metrics) RecordDecode(empty bool) {
	if empty {
		m.DecodeResults.WithLabelValues("empty").Inc()
		return
	}
	m.DecodeResults.WithLabelValues("text").Inc()
}

// RecordUtterance counts a completed utterance
func (m *Metrics) RecordUtterance(reason string) {
	m.Utterances.WithLabelValues(reason).Inc()
}

// RecordVolume sets the input volume gauge
func (m *Metrics) RecordVolume(volume float64) {
	m.Volume.Set(volume)
}

// RecordState marks state as the current session state
func (m *Metrics) RecordState(state string) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}

// RecordError counts a session error event
func (m *Metrics) RecordError(kind string) {
	m.Errors.WithLabelValues(kind).Inc()
}

// RecordPacket counts an accepted UDP packet
func (m *Metrics) RecordPacket(packetType string) {
	m.PacketsReceived.WithLabelValues(packetType).Inc()
}

// RecordPacketError counts a rejected UDP packet
func (m *Metrics) RecordPacketError(reason string) {
	m.PacketErrors.WithLabelValues(reason).Inc()
}

// RecordRemoteRequest records one remote inference request
func (m *Metrics) RecordRemoteRequest(duration time.Duration, err error) {
	m.RemoteRequests.Inc()
	m.RemoteDuration.Observe(duration.Seconds())
	if err != nil {
		m.RemoteFailures.Inc()
	}
}

// RecordRemoteRetry increments the retry counter
func (m *Metrics) RecordRemoteRetry() {
	m.RemoteRetries.Inc()
}

// RecordTranscript records the outcome of delivering a transcript to a sink
func (m *Metrics) RecordTranscript(sink string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.TranscriptsHandled.WithLabelValues(sink, outcome).Inc()
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
