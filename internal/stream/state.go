package stream

import "errors"

// State is the lifecycle position of a Session
type State int32

const (
	StateIdle State = iota
	StateModelLoading
	StateReady
	StateRecording
	StateStopping
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateModelLoading: "model_loading",
	StateReady:        "ready",
	StateRecording:    "recording",
	StateStopping:     "stopping",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrInvalidState is returned when a request does not fit the current state
	ErrInvalidState = errors.New("invalid session state")
	// ErrNoModel is returned by Start before a model is ready
	ErrNoModel = errors.New("no model loaded")
	// ErrClosed is returned once Cleanup has run
	ErrClosed = errors.New("session closed")
)
