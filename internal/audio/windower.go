package audio

import (
	"fmt"
	"sync"
)

// Windower accumulates PCM samples and cuts them into fixed-length frames.
// A hop of zero (or anything not smaller than the window) consumes the whole
// window per frame; otherwise frames slide forward by hop samples.
type Windower struct {
	windowSize int
	hopSize    int
	minFlush   int

	buf     []int16
	emitted uint64
	flushed bool

	mu sync.Mutex
}

// WindowerStats represents windower statistics for monitoring
type WindowerStats struct {
	WindowSize     int    `json:"window_size"`
	HopSize        int    `json:"hop_size"`
	Sliding        bool   `json:"sliding"`
	PendingSamples int    `json:"pending_samples"`
	FramesEmitted  uint64 `json:"frames_emitted"`
}

// NewWindower creates a windower. minFlush is the smallest remainder Flush emits.
func NewWindower(windowSize, hopSize, minFlush int) (*Windower, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}
	if hopSize <= 0 || hopSize >= windowSize {
		hopSize = 0
	}
	if minFlush <= 0 {
		minFlush = 1
	}
	return &Windower{
		windowSize: windowSize,
		hopSize:    hopSize,
		minFlush:   minFlush,
		buf:        make([]int16, 0, windowSize*2),
	}, nil
}

// Push appends samples and returns every frame that became complete
func (w *Windower) Push(samples []int16) [][]int16 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, samples...)
	w.flushed = false

	var frames [][]int16
	for len(w.buf) >= w.windowSize {
		frame := make([]int16, w.windowSize)
		copy(frame, w.buf[:w.windowSize])
		frames = append(frames, frame)
		w.emitted++

		advance := w.windowSize
		if w.hopSize > 0 {
			advance = w.hopSize
		}
		w.buf = w.buf[:copy(w.buf, w.buf[advance:])]
	}
	return frames
}

// Flush emits the remainder zero-padded to a full window when it reaches the
// flush threshold, and clears the buffer either way. Repeated calls without an
// intervening Push return nothing.
func (w *Windower) Flush() ([]int16, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.flushed {
		return nil, false
	}
	w.flushed = true

	remaining := len(w.buf)
	if remaining == 0 || remaining < w.minFlush {
		w.buf = w.buf[:0]
		return nil, false
	}

	frame := make([]int16, w.windowSize)
	copy(frame, w.buf)
	w.buf = w.buf[:0]
	w.emitted++
	return frame, true
}

// Reset drops every pending sample
func (w *Windower) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = w.buf[:0]
	w.flushed = false
}

// Pending returns a copy of the buffered samples
func (w *Windower) Pending() []int16 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int16, len(w.buf))
	copy(out, w.buf)
	return out
}

// GetStats returns current windower statistics
func (w *Windower) GetStats() WindowerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WindowerStats{
		WindowSize:     w.windowSize,
		HopSize:        w.hopSize,
		Sliding:        w.hopSize > 0,
		PendingSamples: len(w.buf),
		FramesEmitted:  w.emitted,
	}
}
