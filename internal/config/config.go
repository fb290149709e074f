package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks every configuration validation failure
var ErrConfiguration = errors.New("configuration error")

// Config represents the complete service configuration
type Config struct {
	Audio        AudioConfig        `yaml:"audio"`
	Windowing    WindowingConfig    `yaml:"windowing"`
	Features     FeaturesConfig     `yaml:"features"`
	Model        ModelConfig        `yaml:"model"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Capture      CaptureConfig      `yaml:"capture"`
	HTTP         HTTPConfig         `yaml:"http"`
	Transcripts  TranscriptsConfig  `yaml:"transcripts"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// AudioConfig contains the capture format
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
	BlockSize  int `yaml:"block_size"` // samples per device read
}

// WindowingConfig controls how captured samples are cut into frames
type WindowingConfig struct {
	WindowDuration float64 `yaml:"window_duration"` // seconds
	OverlapRatio   float64 `yaml:"overlap_ratio"`
	HopSize        int     `yaml:"hop_size"`        // samples, overrides overlap_ratio when set
	MinFlushRatio  float64 `yaml:"min_flush_ratio"` // fraction of a window flushed on stop
}

// FeaturesConfig contains STFT and normalisation parameters
type FeaturesConfig struct {
	FFTSize       int     `yaml:"fft_size"`
	HopLength     int     `yaml:"hop_length"`
	WinLength     int     `yaml:"win_length"`
	NumMels       int     `yaml:"num_mels"` // 0 = follow the model input width
	DBFloor       float64 `yaml:"db_floor"`
	Clamp         bool    `yaml:"clamp"`
	ZeroMaxPolicy string  `yaml:"zero_max_policy"` // "skip" or "clamp"
}

// ModelConfig describes the acoustic model and its decoding conventions
type ModelConfig struct {
	Path            string       `yaml:"path"`
	VocabularyPath  string       `yaml:"vocabulary_path"`
	OutputKind      string       `yaml:"output_kind"`    // auto, logits, indices
	BlankPosition   string       `yaml:"blank_position"` // auto, end, zero
	IndexOffset     *int         `yaml:"index_offset"`   // nil = derived from blank position
	InputKind       string       `yaml:"input_kind"`     // auto, raw_audio, spectrogram
	RequiredSamples int          `yaml:"required_samples"`
	RuntimeLibrary  string       `yaml:"runtime_library"` // onnxruntime shared library
	Remote          RemoteConfig `yaml:"remote"`
}

// RemoteConfig contains HTTP inference backend settings
type RemoteConfig struct {
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// SegmentationConfig controls silence-triggered utterance boundaries
type SegmentationConfig struct {
	SilenceThreshold float64 `yaml:"silence_threshold"` // volume, 0..1
	SilenceReads     int     `yaml:"silence_reads"`     // quiet reads to exceed before a boundary
	ResetBuffer      bool    `yaml:"reset_buffer"`
	MaxUtterance     float64 `yaml:"max_utterance"` // seconds of audio kept per utterance clip
}

// CaptureConfig selects and configures the capture device
type CaptureConfig struct {
	Device  string    `yaml:"device"` // portaudio, wav, udp
	WAVPath string    `yaml:"wav_path"`
	UDP     UDPConfig `yaml:"udp"`
}

// UDPConfig contains the network microphone listener configuration
type UDPConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
	BufferSize  int    `yaml:"buffer_size"`
	ReadTimeout int    `yaml:"read_timeout"` // milliseconds
	MaxGap      int    `yaml:"max_gap"`      // packets
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// TranscriptsConfig contains final-utterance sinks
type TranscriptsConfig struct {
	StorePath   string `yaml:"store_path"` // empty disables the sqlite store
	NATSURL     string `yaml:"nats_url"`   // empty disables publishing
	NATSSubject string `yaml:"nats_subject"`
	WAVDir      string `yaml:"wav_dir"` // empty disables utterance recordings

	// NATSEmbedded runs an in-process server; nats_url defaults to it
	NATSEmbedded bool   `yaml:"nats_embedded"`
	NATSHost     string `yaml:"nats_host"`
	NATSPort     int    `yaml:"nats_port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracingConfig selects the OpenTelemetry span exporter
type TracingConfig struct {
	Exporter     string `yaml:"exporter"` // none, stdout, otlp
	ServiceName  string `yaml:"service_name"`
	Environment  string `yaml:"environment"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

// Default returns a configuration with every field populated
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			BitDepth:   16,
			BlockSize:  1024,
		},
		Windowing: WindowingConfig{
			WindowDuration: 1.0,
			OverlapRatio:   0.5,
			MinFlushRatio:  0.5,
		},
		Features: FeaturesConfig{
			FFTSize:       512,
			HopLength:     128,
			WinLength:     400,
			DBFloor:       80,
			ZeroMaxPolicy: "skip",
		},
		Model: ModelConfig{
			OutputKind:    "auto",
			BlankPosition: "auto",
			InputKind:     "auto",
			Remote: RemoteConfig{
				Timeout:       30,
				MaxRetries:    3,
				MaxConcurrent: 4,
			},
		},
		Segmentation: SegmentationConfig{
			SilenceThreshold: 0.01,
			SilenceReads:     30,
			MaxUtterance:     30,
		},
		Capture: CaptureConfig{
			Device: "portaudio",
			UDP: UDPConfig{
				BindAddress: "0.0.0.0",
				Port:        4444,
				BufferSize:  65536,
				ReadTimeout: 200,
				MaxGap:      20,
			},
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Transcripts: TranscriptsConfig{
			NATSSubject: "speech.transcripts",
			NATSHost:    "127.0.0.1",
			NATSPort:    4222,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "speech-stream",
			Environment: "development",
		},
	}
}

// Load reads and parses the configuration file on top of Default
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	sections := []struct {
		name string
		fn   func() error
	}{
		{"audio", c.Audio.Validate},
		{"windowing", func() error { return c.Windowing.Validate(c.Audio.SampleRate) }},
		{"features", c.Features.Validate},
		{"model", c.Model.Validate},
		{"segmentation", c.Segmentation.Validate},
		{"capture", c.Capture.Validate},
		{"http", c.HTTP.Validate},
		{"transcripts", c.Transcripts.Validate},
		{"logging", c.Logging.Validate},
		{"tracing", c.Tracing.Validate},
	}
	for _, s := range sections {
		if err := s.fn(); err != nil {
			return fmt.Errorf("%s config: %w", s.name, err)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return invalid("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return invalid("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return invalid("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.BlockSize < 64 {
		return invalid("block_size must be at least 64 samples, got %d", a.BlockSize)
	}

	return nil
}

// Validate validates windowing configuration
func (w *WindowingConfig) Validate(sampleRate int) error {
	if w.WindowDuration <= 0 {
		return invalid("window_duration must be positive, got %f", w.WindowDuration)
	}

	if w.OverlapRatio < 0 || w.OverlapRatio >= 1 {
		return invalid("overlap_ratio must be between 0 and 1 (exclusive), got %f", w.OverlapRatio)
	}

	if w.HopSize < 0 {
		return invalid("hop_size cannot be negative, got %d", w.HopSize)
	}

	if w.HopSize > w.WindowSamples(sampleRate) {
		return invalid("hop_size (%d) cannot exceed the window (%d samples)", w.HopSize, w.WindowSamples(sampleRate))
	}

	if w.MinFlushRatio <= 0 || w.MinFlushRatio > 1 {
		return invalid("min_flush_ratio must be in (0, 1], got %f", w.MinFlushRatio)
	}

	return nil
}

// Validate validates feature extraction configuration
func (f *FeaturesConfig) Validate() error {
	if f.FFTSize < 2 || f.FFTSize&(f.FFTSize-1) != 0 {
		return invalid("fft_size must be a power of two, got %d", f.FFTSize)
	}

	if f.HopLength < 1 {
		return invalid("hop_length must be positive, got %d", f.HopLength)
	}

	if f.WinLength < 1 || f.WinLength > f.FFTSize {
		return invalid("win_length must be in [1, fft_size], got %d", f.WinLength)
	}

	if f.NumMels < 0 {
		return invalid("num_mels cannot be negative, got %d", f.NumMels)
	}

	if f.DBFloor <= 0 {
		return invalid("db_floor must be positive, got %f", f.DBFloor)
	}

	if f.ZeroMaxPolicy != "skip" && f.ZeroMaxPolicy != "clamp" {
		return invalid("zero_max_policy must be 'skip' or 'clamp', got '%s'", f.ZeroMaxPolicy)
	}

	return nil
}

// Validate validates model configuration
func (m *ModelConfig) Validate() error {
	if !oneOf(m.OutputKind, "auto", "logits", "indices") {
		return invalid("output_kind must be one of [auto, logits, indices], got '%s'", m.OutputKind)
	}

	if !oneOf(m.BlankPosition, "auto", "end", "zero") {
		return invalid("blank_position must be one of [auto, end, zero], got '%s'", m.BlankPosition)
	}

	if m.IndexOffset != nil && *m.IndexOffset != 0 && *m.IndexOffset != 1 {
		return invalid("index_offset must be 0 or 1, got %d", *m.IndexOffset)
	}

	if !oneOf(m.InputKind, "auto", "raw_audio", "spectrogram") {
		return invalid("input_kind must be one of [auto, raw_audio, spectrogram], got '%s'", m.InputKind)
	}

	if m.RequiredSamples < 0 {
		return invalid("required_samples cannot be negative, got %d", m.RequiredSamples)
	}

	if m.Remote.Timeout < 1 {
		return invalid("remote timeout must be at least 1 second, got %d", m.Remote.Timeout)
	}

	if m.Remote.MaxRetries < 0 {
		return invalid("remote max_retries cannot be negative, got %d", m.Remote.MaxRetries)
	}

	if m.Remote.MaxConcurrent < 1 {
		return invalid("remote max_concurrent must be at least 1, got %d", m.Remote.MaxConcurrent)
	}

	return nil
}

// Validate validates segmentation configuration
func (s *SegmentationConfig) Validate() error {
	if s.SilenceThreshold < 0 || s.SilenceThreshold > 1 {
		return invalid("silence_threshold must be between 0 and 1, got %f", s.SilenceThreshold)
	}

	if s.SilenceReads < 1 {
		return invalid("silence_reads must be at least 1, got %d", s.SilenceReads)
	}

	if s.MaxUtterance <= 0 {
		return invalid("max_utterance must be positive, got %f", s.MaxUtterance)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.Device {
	case "portaudio":
	case "wav":
		if c.WAVPath == "" {
			return invalid("wav_path cannot be empty for the wav device")
		}
	case "udp":
		if c.UDP.Port < 1 || c.UDP.Port > 65535 {
			return invalid("udp port must be between 1 and 65535, got %d", c.UDP.Port)
		}
		if c.UDP.BindAddress == "" {
			return invalid("udp bind_address cannot be empty")
		}
		if c.UDP.BufferSize < 1024 {
			return invalid("udp buffer_size must be at least 1024 bytes, got %d", c.UDP.BufferSize)
		}
		if c.UDP.ReadTimeout < 1 {
			return invalid("udp read_timeout must be positive, got %d", c.UDP.ReadTimeout)
		}
		if c.UDP.MaxGap < 1 {
			return invalid("udp max_gap must be positive, got %d", c.UDP.MaxGap)
		}
	default:
		return invalid("device must be one of [portaudio, wav, udp], got '%s'", c.Device)
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return invalid("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return invalid("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates transcript sink configuration
func (t *TranscriptsConfig) Validate() error {
	if (t.NATSURL != "" || t.NATSEmbedded) && t.NATSSubject == "" {
		return invalid("nats_subject cannot be empty when publishing is enabled")
	}

	if t.NATSEmbedded && (t.NATSPort < 1 || t.NATSPort > 65535) {
		return invalid("nats_port must be between 1 and 65535, got %d", t.NATSPort)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	if !oneOf(l.Level, "debug", "info", "warn", "error") {
		return invalid("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	if !oneOf(l.Format, "json", "text") {
		return invalid("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path.
	if l.Output != "" && strings.TrimSpace(l.Output) == "" {
		return invalid("output cannot be whitespace")
	}

	return nil
}

// Validate validates tracing configuration
func (t *TracingConfig) Validate() error {
	if !oneOf(t.Exporter, "none", "stdout", "otlp") {
		return invalid("exporter must be one of [none, stdout, otlp], got '%s'", t.Exporter)
	}

	if t.Exporter != "none" && t.ServiceName == "" {
		return invalid("service_name cannot be empty when tracing is enabled")
	}

	if t.Exporter == "otlp" && strings.TrimSpace(t.OTLPEndpoint) == "" {
		return invalid("otlp_endpoint cannot be empty for the otlp exporter")
	}

	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// WindowSamples returns the frame length in samples
func (w *WindowingConfig) WindowSamples(sampleRate int) int {
	return int(w.WindowDuration * float64(sampleRate))
}

// HopSamples returns the sliding hop in samples; 0 selects consume-and-clear
func (w *WindowingConfig) HopSamples(sampleRate int) int {
	if w.HopSize > 0 {
		return w.HopSize
	}
	if w.OverlapRatio == 0 {
		return 0
	}
	return int(float64(w.WindowSamples(sampleRate)) * (1 - w.OverlapRatio))
}

// MinFlushSamples returns the minimum remainder emitted on flush
func (w *WindowingConfig) MinFlushSamples(sampleRate int) int {
	return int(float64(w.WindowSamples(sampleRate)) * w.MinFlushRatio)
}

// GetWindowDuration returns the window duration as a time.Duration
func (w *WindowingConfig) GetWindowDuration() time.Duration {
	return time.Duration(w.WindowDuration * float64(time.Second))
}

// GetMaxUtteranceDuration returns the utterance clip limit
func (s *SegmentationConfig) GetMaxUtteranceDuration() time.Duration {
	return time.Duration(s.MaxUtterance * float64(time.Second))
}

// GetTimeoutDuration returns the remote inference timeout as a time.Duration
func (r *RemoteConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

// GetReadTimeoutDuration returns the UDP read timeout as a time.Duration
func (u *UDPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(u.ReadTimeout) * time.Millisecond
}

// BlockDuration returns the wall time covered by one device read
func (a *AudioConfig) BlockDuration() time.Duration {
	return time.Duration(a.BlockSize) * time.Second / time.Duration(a.SampleRate)
}
