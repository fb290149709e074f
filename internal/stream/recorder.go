package stream

import "time"

// Recorder receives session measurements. internal/metrics provides the
// Prometheus implementation.
type Recorder interface {
	RecordFrame(duration time.Duration, err error)
	RecordDecode(empty bool)
	RecordUtterance(reason string)
	RecordVolume(volume float64)
	RecordState(state string)
	RecordError(kind string)
}

type nopRecorder struct{}

func (nopRecorder) RecordFrame(time.Duration, error) {}
func (nopRecorder) RecordDecode(bool)                {}
func (nopRecorder) RecordUtterance(string)           {}
func (nopRecorder) RecordVolume(float64)             {}
func (nopRecorder) RecordState(string)               {}
func (nopRecorder) RecordError(string)               {}
