package stream

import (
	"time"

	"github.com/Zmmoly/Rat50/internal/audio"
	"github.com/Zmmoly/Rat50/internal/model"
)

// EventType identifies what an Event reports
type EventType string

const (
	EventModelLoaded      EventType = "model_loaded"
	EventRecordingStarted EventType = "recording_started"
	EventVolume           EventType = "volume"
	EventText             EventType = "text"
	EventRecordingStopped EventType = "recording_stopped"
	EventError            EventType = "error"
)

// ErrorKind classifies error events
type ErrorKind string

const (
	ErrorModelLoad     ErrorKind = "model_load"
	ErrorDeviceInit    ErrorKind = "device_init"
	ErrorInference     ErrorKind = "inference"
	ErrorConfiguration ErrorKind = "configuration"
	ErrorDeviceRead    ErrorKind = "device_read"
)

// Reasons attached to final text and recording_stopped events
const (
	ReasonSilence   = "silence"
	ReasonStop      = "stop"
	ReasonEndOfData = "end_of_input"
	ReasonDevice    = "device_error"
)

// Event is one message on the session event channel
type Event struct {
	Type      EventType `json:"type"`
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	Volume float64 `json:"volume,omitempty"`

	// Text is cumulative for partial events and the whole utterance when IsFinal
	Text        string `json:"text,omitempty"`
	IsFinal     bool   `json:"is_final,omitempty"`
	UtteranceID string `json:"utterance_id,omitempty"`
	Reason      string `json:"reason,omitempty"`

	Model *ModelInfo `json:"model,omitempty"`

	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`

	// Clip holds the utterance audio on final text events
	Clip *audio.Clip `json:"clip,omitempty"`
}

// ModelInfo describes a loaded model
type ModelInfo struct {
	Name           string        `json:"name"`
	Path           string        `json:"path"`
	InputShape     []int64       `json:"input_shape"`
	InputType      string        `json:"input_type"`
	OutputShape    []int64       `json:"output_shape"`
	OutputType     string        `json:"output_type"`
	Profile        model.Profile `json:"profile"`
	Convention     string        `json:"convention"`
	Vocabulary     string        `json:"vocabulary"`
	VocabularySize int           `json:"vocabulary_size"`
}

func newModelInfo(path string, info model.Info, p model.Profile, vocabSource string, vocabSize int) *ModelInfo {
	mi := &ModelInfo{
		Name:           info.Name,
		Path:           path,
		Profile:        p,
		Convention:     p.String(),
		Vocabulary:     vocabSource,
		VocabularySize: vocabSize,
	}
	if len(info.Inputs) > 0 {
		mi.InputShape = info.Inputs[0].Shape
		mi.InputType = info.Inputs[0].Type.String()
	}
	if len(info.Outputs) > 0 {
		mi.OutputShape = info.Outputs[0].Shape
		mi.OutputType = info.Outputs[0].Type.String()
	}
	return mi
}
