package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zmmoly/Rat50/internal/audio"
	"github.com/Zmmoly/Rat50/internal/capture"
	"github.com/Zmmoly/Rat50/internal/config"
	"github.com/Zmmoly/Rat50/internal/ctc"
	"github.com/Zmmoly/Rat50/internal/features"
	"github.com/Zmmoly/Rat50/internal/inference"
	"github.com/Zmmoly/Rat50/internal/model"
	"github.com/Zmmoly/Rat50/internal/vad"
)

const tracerName = "github.com/Zmmoly/Rat50/internal/stream"

// DefaultEventBuffer is the event channel capacity when Config leaves it unset
const DefaultEventBuffer = 256

// Config contains session settings
type Config struct {
	Format    capture.Format
	BlockSize int // samples per device read

	WindowSize int
	HopSize    int // <= 0 or >= WindowSize for non-overlapping frames
	MinFlush   int

	// Features.NumMels of zero follows the model's declared input width
	Features       features.Params
	Overrides      model.Overrides
	VocabularyPath string

	SilenceThreshold float64
	SilenceReads     int
	ResetBuffer      bool
	MaxUtterance     time.Duration

	EventBuffer int
}

// Validate checks the settings every recording depends on
func (c Config) Validate() error {
	if err := c.Format.Validate(); err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("%w: block size must be positive, got %d", config.ErrConfiguration, c.BlockSize)
	}
	if _, err := audio.NewWindower(c.WindowSize, c.HopSize, c.MinFlush); err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	if _, err := vad.NewDetector(c.SilenceThreshold, c.SilenceReads); err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	return nil
}

// ModelLoader opens a model by path; *model.Loader satisfies it
type ModelLoader interface {
	Load(ctx context.Context, path string) (model.Model, error)
}

// Option customises a Session
type Option func(*Session)

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithTracer sets the tracer used for per-frame spans
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) {
		if t != nil {
			s.tracer = t
		}
	}
}

// Session owns one model and at most one capture device, and runs the
// capture-to-text pipeline on a single goroutine while recording.
//
// Events are delivered in processing order on the channel returned by
// Events. The caller must keep draining it until Cleanup closes it; volume
// events are dropped rather than waited for when the channel is full.
type Session struct {
	id       string
	cfg      Config
	loader   ModelLoader
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	state  State
	model  *loadedModel
	rec    *recording
	text   []string
	closed bool

	// starting is set while Start opens a device outside mu
	starting bool

	stop atomic.Bool

	framesProcessed atomic.Uint64
	frameErrors     atomic.Uint64
	utterances      atomic.Uint64
	lastVolume      atomic.Uint64
	droppedEvents   atomic.Uint64

	events       chan Event
	emitMu       sync.Mutex
	seq          uint64
	eventsClosed bool
}

type loadedModel struct {
	model    model.Model
	info     *ModelInfo
	pipeline *Pipeline
}

// recording is owned by the capture goroutine
type recording struct {
	device    capture.Device
	windower  *audio.Windower
	detector  *vad.Detector
	chunker   *audio.Chunker
	pipeline  *Pipeline
	started   time.Time
	utterance string
	done      chan struct{}
}

// SessionStats represents session statistics for monitoring
type SessionStats struct {
	ID              string               `json:"id"`
	State           State                `json:"state"`
	Model           *ModelInfo           `json:"model,omitempty"`
	Text            string               `json:"text"`
	RecordingSince  *time.Time           `json:"recording_since,omitempty"`
	FramesProcessed uint64               `json:"frames_processed"`
	FrameErrors     uint64               `json:"frame_errors"`
	Utterances      uint64               `json:"utterances"`
	LastVolume      float64              `json:"last_volume"`
	DroppedEvents   uint64               `json:"dropped_events"`
	Windower        *audio.WindowerStats `json:"windower,omitempty"`
	Detector        *vad.DetectorStats   `json:"detector,omitempty"`
	Chunker         *audio.ChunkerStats  `json:"chunker,omitempty"`
}

// NewSession creates an idle session
func NewSession(cfg Config, loader ModelLoader, logger *slog.Logger, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, fmt.Errorf("%w: model loader is required", config.ErrConfiguration)
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		loader:   loader,
		recorder: nopRecorder{},
		tracer:   otel.Tracer(tracerName),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
		events:   make(chan Event, cfg.EventBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.With(slog.String("session_id", s.id))
	s.recorder.RecordState(StateIdle.String())
	return s, nil
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Events returns the event channel. It is closed by Cleanup.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Text returns the text accumulated for the utterance in progress
func (s *Session) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return strings.Join(s.text, " ")
}

// Model returns the loaded model description, or nil
func (s *Session) Model() *ModelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil {
		return nil
	}
	return s.model.info
}

// LoadModel opens the model at path and prepares the pipeline for it. A
// failure emits an error event and leaves the session idle.
func (s *Session) LoadModel(ctx context.Context, path string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateIdle && s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot load a model while %s", ErrInvalidState, state)
	}
	if s.starting {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot load a model while a device is opening", ErrInvalidState)
	}
	previous := s.model
	s.model = nil
	s.setStateLocked(StateModelLoading)
	s.mu.Unlock()

	if previous != nil {
		s.closeModel(previous)
	}

	s.logger.Info("Loading model", slog.String("path", path))
	lm, kind, err := s.openModel(ctx, path)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if lm != nil {
			s.closeModel(lm)
		}
		return ErrClosed
	}
	if err != nil {
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		s.report(kind, err)
		return err
	}
	s.model = lm
	s.setStateLocked(StateReady)
	s.mu.Unlock()

	s.logger.Info("Model loaded",
		slog.String("name", lm.info.Name),
		slog.String("input_type", lm.info.InputType),
		slog.Any("input_shape", lm.info.InputShape),
		slog.String("output_type", lm.info.OutputType),
		slog.Any("output_shape", lm.info.OutputShape),
		slog.String("convention", lm.info.Convention),
	)
	s.emit(Event{Type: EventModelLoaded, Model: lm.info})
	return nil
}

func (s *Session) openModel(ctx context.Context, path string) (*loadedModel, ErrorKind, error) {
	vocab, err := ctc.LoadVocabulary(s.cfg.VocabularyPath, s.logger)
	if err != nil {
		return nil, ErrorConfiguration, err
	}

	m, err := s.loader.Load(ctx, path)
	if err != nil {
		return nil, ErrorModelLoad, err
	}

	info := m.Info()
	profile, err := model.DetectProfile(info, s.cfg.Overrides)
	if err != nil {
		m.Close()
		return nil, ErrorModelLoad, err
	}

	extractor, err := s.newExtractor(profile)
	if err != nil {
		m.Close()
		return nil, ErrorConfiguration, err
	}

	classes := profile.Classes(vocab.Len())
	if out := info.Outputs[0]; profile.OutputKind == model.OutputLogits && out.Rank() >= 2 {
		if width := out.Dim(out.Rank() - 1); width > 0 && int(width) != classes {
			s.logger.Warn("Model output width does not match vocabulary",
				slog.Int64("output_width", width),
				slog.Int("expected_classes", classes),
			)
		}
	}

	adapter := inference.NewAdapter(m, profile, extractor, classes)
	decoder := ctc.NewDecoder(vocab, profile.BlankIndex(vocab.Len()), profile.IndexOffset)
	return &loadedModel{
		model:    m,
		info:     newModelInfo(path, info, profile, vocab.Source(), vocab.Len()),
		pipeline: NewPipeline(adapter, decoder, s.tracer, s.recorder),
	}, "", nil
}

func (s *Session) newExtractor(p model.Profile) (*features.Extractor, error) {
	if p.InputKind != model.InputSpectrogram {
		return nil, nil
	}

	params := s.cfg.Features
	if params.NumMels == 0 && p.FeatureBins > 0 {
		params.NumMels = p.FeatureBins
	}
	e, err := features.NewExtractor(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	if p.FeatureBins > 0 && e.Bins() != p.FeatureBins {
		return nil, fmt.Errorf("%w: feature width %d does not match model input width %d",
			config.ErrConfiguration, e.Bins(), p.FeatureBins)
	}
	return e, nil
}

func (s *Session) closeModel(lm *loadedModel) {
	if err := lm.model.Close(); err != nil {
		s.logger.Warn("Failed to release model",
			slog.String("name", lm.info.Name),
			slog.String("error", err.Error()),
		)
	}
}

// Start opens a device from factory and begins recording. A device failure
// emits an error event and leaves the session ready.
func (s *Session) Start(ctx context.Context, factory capture.Factory) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switch s.state {
	case StateReady:
	case StateIdle, StateModelLoading:
		s.mu.Unlock()
		return ErrNoModel
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: already %s", ErrInvalidState, state)
	}

	if s.starting {
		s.mu.Unlock()
		return fmt.Errorf("%w: already starting", ErrInvalidState)
	}
	lm := s.model
	s.starting = true
	s.mu.Unlock()

	rec, err := s.openRecording(ctx, factory, lm)

	s.mu.Lock()
	s.starting = false
	if err != nil {
		s.mu.Unlock()
		s.report(ErrorDeviceInit, err)
		return err
	}
	if s.closed || s.state != StateReady || s.model != lm {
		closed, state := s.closed, s.state
		s.mu.Unlock()
		rec.device.Close()
		if closed {
			return ErrClosed
		}
		return fmt.Errorf("%w: session became %s while the device was opening", ErrInvalidState, state)
	}
	s.rec = rec
	s.text = nil
	s.stop.Store(false)
	s.setStateLocked(StateRecording)
	s.mu.Unlock()

	s.logger.Info("Recording started",
		slog.Int("sample_rate", s.cfg.Format.SampleRate),
		slog.Int("block_size", s.cfg.BlockSize),
	)
	s.emit(Event{Type: EventRecordingStarted})

	go s.capture(rec)
	return nil
}

func (s *Session) openRecording(ctx context.Context, factory capture.Factory, lm *loadedModel) (*recording, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: no capture device configured", capture.ErrDeviceInit)
	}
	dev, err := factory()
	if err != nil {
		return nil, deviceInitError(err)
	}
	if err := dev.Open(ctx, s.cfg.Format); err != nil {
		return nil, deviceInitError(err)
	}

	windower, err := audio.NewWindower(s.cfg.WindowSize, s.cfg.HopSize, s.cfg.MinFlush)
	if err != nil {
		dev.Close()
		return nil, err
	}
	detector, err := vad.NewDetector(s.cfg.SilenceThreshold, s.cfg.SilenceReads)
	if err != nil {
		dev.Close()
		return nil, err
	}

	return &recording{
		device:   dev,
		windower: windower,
		detector: detector,
		chunker:  audio.NewChunker(s.cfg.Format.SampleRate, s.cfg.MaxUtterance),
		pipeline: lm.pipeline,
		started:  time.Now(),
		done:     make(chan struct{}),
	}, nil
}

func deviceInitError(err error) error {
	if errors.Is(err, capture.ErrDeviceInit) {
		return err
	}
	return fmt.Errorf("%w: %w", capture.ErrDeviceInit, err)
}

// Stop asks the capture goroutine to finish and waits until it has flushed
// the last frame and released the device. An inference call in progress
// completes first.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.rec == nil || (s.state != StateRecording && s.state != StateStopping) {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: not recording (%s)", ErrInvalidState, state)
	}
	if s.state == StateRecording {
		s.setStateLocked(StateStopping)
	}
	s.stop.Store(true)
	done := s.rec.done
	s.mu.Unlock()

	s.logger.Info("Stopping recording")
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the current recording ends on its own or is stopped
func (s *Session) Wait(ctx context.Context) error {
	s.mu.RLock()
	rec := s.rec
	s.mu.RUnlock()
	if rec == nil {
		return nil
	}

	select {
	case <-rec.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cleanup stops any recording, releases the model and closes the event
// channel. The session cannot be used afterwards.
func (s *Session) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var done chan struct{}
	if s.rec != nil {
		s.stop.Store(true)
		done = s.rec.done
	}
	s.mu.Unlock()

	var errs []error
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for recording to stop: %w", ctx.Err()))
		}
	}

	s.mu.Lock()
	lm := s.model
	s.model = nil
	s.setStateLocked(StateIdle)
	s.mu.Unlock()

	if lm != nil {
		if err := lm.model.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release model: %w", err))
		}
	}
	s.cancel()

	s.emitMu.Lock()
	s.eventsClosed = true
	close(s.events)
	s.emitMu.Unlock()

	s.logger.Info("Session cleaned up")
	return errors.Join(errs...)
}

func (s *Session) capture(rec *recording) {
	defer close(rec.done)

	block := make([]int16, s.cfg.BlockSize)
	reason := ReasonStop
	for !s.stop.Load() {
		n, err := rec.device.Read(block)
		if n > 0 {
			s.processBlock(rec, block[:n])
		}
		if errors.Is(err, io.EOF) {
			reason = ReasonEndOfData
			break
		}
		if err != nil {
			s.report(ErrorDeviceRead, fmt.Errorf("device read failed: %w", err))
			reason = ReasonDevice
			break
		}
	}

	s.finish(rec, reason)
}

func (s *Session) processBlock(rec *recording, samples []int16) {
	res := rec.detector.Observe(samples)
	s.lastVolume.Store(math.Float64bits(res.Volume))
	s.recorder.RecordVolume(res.Volume)
	s.emit(Event{Type: EventVolume, Volume: res.Volume})

	rec.chunker.Append(samples)
	for _, frame := range rec.windower.Push(samples) {
		s.processFrame(rec, frame)
	}

	if res.Boundary {
		s.logger.Debug("Silence boundary", slog.Float64("volume", res.Volume))
		s.endUtterance(rec, ReasonSilence, false)
		if s.cfg.ResetBuffer {
			rec.windower.Reset()
		}
	}
}

func (s *Session) processFrame(rec *recording, frame []int16) {
	text, err := rec.pipeline.Process(s.ctx, frame)
	s.framesProcessed.Add(1)
	if err != nil {
		s.frameErrors.Add(1)
		s.report(ErrorInference, err)
		return
	}
	if text == "" {
		return
	}

	if rec.utterance == "" {
		rec.utterance = uuid.NewString()
	}
	s.mu.Lock()
	s.text = append(s.text, text)
	cumulative := strings.Join(s.text, " ")
	s.mu.Unlock()

	s.logger.Debug("Frame decoded", slog.String("text", text))
	s.emit(Event{Type: EventText, Text: cumulative, UtteranceID: rec.utterance})
}

// endUtterance emits the accumulated text as final. With always unset an
// empty utterance is discarded silently.
func (s *Session) endUtterance(rec *recording, reason string, always bool) {
	s.mu.Lock()
	text := strings.TrimSpace(strings.Join(s.text, " "))
	s.text = nil
	s.mu.Unlock()

	id := rec.utterance
	rec.utterance = ""
	if id == "" {
		id = uuid.NewString()
	}

	if text == "" {
		rec.chunker.Discard()
		if !always {
			return
		}
		s.emit(Event{Type: EventText, IsFinal: true, UtteranceID: id, Reason: reason})
		return
	}

	clip := rec.chunker.Finalize(id)
	s.utterances.Add(1)
	s.recorder.RecordUtterance(reason)
	s.logger.Info("Utterance recognized",
		slog.String("utterance_id", id),
		slog.String("reason", reason),
		slog.Int("characters", len([]rune(text))),
	)
	s.emit(Event{Type: EventText, Text: text, IsFinal: true, UtteranceID: id, Reason: reason, Clip: clip})
}

func (s *Session) finish(rec *recording, reason string) {
	s.mu.Lock()
	if s.state == StateRecording {
		s.setStateLocked(StateStopping)
	}
	s.mu.Unlock()

	if frame, ok := rec.windower.Flush(); ok {
		s.processFrame(rec, frame)
	}
	s.endUtterance(rec, reason, true)

	if err := rec.device.Close(); err != nil {
		s.logger.Warn("Failed to close capture device", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.rec = nil
	if !s.closed {
		s.setStateLocked(StateReady)
	}
	s.mu.Unlock()

	s.logger.Info("Recording stopped",
		slog.String("reason", reason),
		slog.Duration("duration", time.Since(rec.started)),
	)
	s.emit(Event{Type: EventRecordingStopped, Reason: reason})
}

func (s *Session) setStateLocked(state State) {
	if s.state != state {
		s.logger.Debug("Session state changed",
			slog.String("from", s.state.String()),
			slog.String("to", state.String()),
		)
	}
	s.state = state
	s.recorder.RecordState(state.String())
}

// report logs err, counts it and emits an error event
func (s *Session) report(kind ErrorKind, err error) {
	if kind == ErrorInference {
		s.logger.Warn("Frame processing failed", slog.String("error", err.Error()))
	} else {
		s.logger.Error("Session error",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
	s.recorder.RecordError(string(kind))
	s.emit(Event{Type: EventError, ErrorKind: kind, Message: err.Error()})
}

func (s *Session) emit(e Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if s.eventsClosed {
		return
	}
	e.SessionID = s.id
	e.Timestamp = time.Now()

	if e.Type == EventVolume {
		e.Seq = s.seq + 1
		select {
		case s.events <- e:
			s.seq++
		default:
			s.droppedEvents.Add(1)
		}
		return
	}

	s.seq++
	e.Seq = s.seq
	s.events <- e
}

// GetStats returns session statistics
func (s *Session) GetStats() SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := SessionStats{
		ID:              s.id,
		State:           s.state,
		Text:            strings.Join(s.text, " "),
		FramesProcessed: s.framesProcessed.Load(),
		FrameErrors:     s.frameErrors.Load(),
		Utterances:      s.utterances.Load(),
		LastVolume:      math.Float64frombits(s.lastVolume.Load()),
		DroppedEvents:   s.droppedEvents.Load(),
	}
	if s.model != nil {
		stats.Model = s.model.info
	}
	if s.rec != nil {
		since := s.rec.started
		w := s.rec.windower.GetStats()
		d := s.rec.detector.GetStats()
		c := s.rec.chunker.GetStats()
		stats.RecordingSince = &since
		stats.Windower = &w
		stats.Detector = &d
		stats.Chunker = &c
	}
	return stats
}
