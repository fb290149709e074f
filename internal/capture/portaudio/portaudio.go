// Package portaudio captures microphone audio through PortAudio.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/Zmmoly/Rat50/internal/capture"
)

// Device reads the default input device in fixed-size blocks
type Device struct {
	blockSize int
	logger    *slog.Logger

	mu        sync.Mutex
	stream    *portaudio.Stream
	block     []int16
	pending   []int16
	overflows uint64
}

// New creates a microphone device that reads blockSize samples per call
func New(blockSize int, logger *slog.Logger) *Device {
	return &Device{blockSize: blockSize, logger: logger}
}

// Factory returns a capture.Factory creating microphone devices
func Factory(blockSize int, logger *slog.Logger) capture.Factory {
	return func() (capture.Device, error) {
		return New(blockSize, logger), nil
	}
}

// Open initializes PortAudio and starts the default input stream
func (d *Device) Open(ctx context.Context, f capture.Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if d.blockSize <= 0 {
		return fmt.Errorf("%w: block size must be positive, got %d", capture.ErrDeviceInit, d.blockSize)
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: portaudio init: %w", capture.ErrDeviceInit, err)
	}

	d.block = make([]int16, d.blockSize)
	stream, err := portaudio.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), d.blockSize, d.block)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: open input stream: %w", capture.ErrDeviceInit, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("%w: start input stream: %w", capture.ErrDeviceInit, err)
	}

	d.mu.Lock()
	d.stream = stream
	d.mu.Unlock()

	d.logger.Info("Microphone opened",
		slog.Int("sample_rate", f.SampleRate),
		slog.Int("block_size", d.blockSize),
	)
	return nil
}

// Read blocks until one device buffer is available. Overflowed input is
// reported as a warning and the captured block is still returned.
func (d *Device) Read(dst []int16) (int, error) {
	if len(d.pending) > 0 {
		n := copy(dst, d.pending)
		d.pending = d.pending[n:]
		return n, nil
	}

	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()
	if stream == nil {
		return 0, io.ErrClosedPipe
	}

	if err := stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return 0, fmt.Errorf("read microphone: %w", err)
		}
		d.overflows++
		d.logger.Warn("Microphone input overflowed", slog.Uint64("overflows", d.overflows))
	}

	n := copy(dst, d.block)
	if n < len(d.block) {
		d.pending = append(d.pending[:0], d.block[n:]...)
	}
	return n, nil
}

// Close stops the stream and releases PortAudio
func (d *Device) Close() error {
	d.mu.Lock()
	stream := d.stream
	d.stream = nil
	d.mu.Unlock()
	if stream == nil {
		return nil
	}

	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop stream: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("terminate: %w", err))
	}
	return errors.Join(errs...)
}
