package capture

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Zmmoly/Rat50/internal/audio"
)

// WAVDevice replays a 16-bit mono WAV file as a capture stream
type WAVDevice struct {
	path     string
	realtime bool

	reader *audio.WAVReader
	rate   int
	next   time.Time
}

// NewWAVDevice creates a WAV-backed device. With realtime set, reads are
// paced to the file's sample rate.
func NewWAVDevice(path string, realtime bool) *WAVDevice {
	return &WAVDevice{path: path, realtime: realtime}
}

// Open opens the file and checks it matches f
func (d *WAVDevice) Open(ctx context.Context, f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}

	reader, err := audio.OpenWAV(d.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceInit, err)
	}

	info := reader.Info()
	if info.SampleRate != f.SampleRate {
		reader.Close()
		return fmt.Errorf("%w: %s is %d Hz, want %d Hz", ErrDeviceInit, d.path, info.SampleRate, f.SampleRate)
	}

	d.reader = reader
	d.rate = info.SampleRate
	d.next = time.Now()
	return nil
}

// Read returns the next block of samples
func (d *WAVDevice) Read(dst []int16) (int, error) {
	if d.reader == nil {
		return 0, io.ErrClosedPipe
	}

	n, err := d.reader.Read(dst)
	if n > 0 && d.realtime {
		d.next = d.next.Add(time.Duration(n) * time.Second / time.Duration(d.rate))
		if wait := time.Until(d.next); wait > 0 {
			time.Sleep(wait)
		}
	}
	return n, err
}

// Close releases the file
func (d *WAVDevice) Close() error {
	if d.reader == nil {
		return nil
	}
	err := d.reader.Close()
	d.reader = nil
	return err
}
