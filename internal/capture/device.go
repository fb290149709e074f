package capture

import (
	"context"
	"errors"
	"fmt"
)

// ErrDeviceInit marks failures to open or configure a capture device
var ErrDeviceInit = errors.New("capture device initialization failed")

// Format is the PCM format requested from a device
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Validate checks the only format the pipeline consumes: 16 kHz mono PCM16
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels != 1 || f.BitDepth != 16 {
		return fmt.Errorf("%w: unsupported format %d Hz, %d channels, %d bit",
			ErrDeviceInit, f.SampleRate, f.Channels, f.BitDepth)
	}
	return nil
}

// Device is a blocking PCM source.
//
// Read fills dst with up to len(dst) samples. It may return (0, nil) when no
// audio arrived within the device's poll interval, and returns io.EOF once
// the source is exhausted.
type Device interface {
	Open(ctx context.Context, f Format) error
	Read(dst []int16) (int, error)
	Close() error
}

// Factory creates a fresh device for each recording
type Factory func() (Device, error)
