package vad

import (
	"fmt"
	"sync"
	"time"

	"github.com/Zmmoly/Rat50/internal/audio"
)

// Detector marks utterance boundaries from the volume of successive device
// reads. A boundary fires once when a run of quiet reads reaches the
// configured length, and re-arms on the next loud read.
type Detector struct {
	threshold   float64
	quietNeeded int

	quietRun  int
	fired     bool
	speaking  bool
	lastLevel float64

	totalReads    uint64
	quietReads    uint64
	boundaries    uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result describes one observed read
type Result struct {
	Volume float64 `json:"volume"`
	Quiet  bool    `json:"quiet"`
	// SpeechStart is set on the first loud read after silence
	SpeechStart bool `json:"speech_start"`
	// Boundary is set on the read that completes a silence run
	Boundary bool `json:"boundary"`
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	Threshold     float64   `json:"threshold"`
	SilenceReads  int       `json:"silence_reads"`
	TotalReads    uint64    `json:"total_reads"`
	QuietReads    uint64    `json:"quiet_reads"`
	QuietRatio    float64   `json:"quiet_ratio"`
	Boundaries    uint64    `json:"boundaries"`
	CurrentQuiet  int       `json:"current_quiet_run"`
	LastVolume    float64   `json:"last_volume"`
	LastProcessed time.Time `json:"last_processed"`
}

// NewDetector creates a detector. threshold is a volume in [0, 1]. An
// utterance ends once the quiet run exceeds silenceReads, so the boundary
// fires on read silenceReads+1.
func NewDetector(threshold float64, silenceReads int) (*Detector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if silenceReads <= 0 {
		return nil, fmt.Errorf("silence reads must be positive, got %d", silenceReads)
	}

	return &Detector{
		threshold:   threshold,
		quietNeeded: silenceReads,
	}, nil
}

// Observe classifies one read
func (d *Detector) Observe(samples []int16) Result {
	return d.ObserveVolume(audio.Volume(samples))
}

// ObserveVolume classifies a read by its precomputed volume
func (d *Detector) ObserveVolume(volume float64) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalReads++
	d.lastLevel = volume
	d.lastProcessed = time.Now()

	r := Result{Volume: volume, Quiet: volume < d.threshold}
	if !r.Quiet {
		r.SpeechStart = !d.speaking
		d.speaking = true
		d.quietRun = 0
		d.fired = false
		return r
	}

	d.quietReads++
	d.quietRun++
	if d.speaking && !d.fired && d.quietRun > d.quietNeeded {
		r.Boundary = true
		d.fired = true
		d.speaking = false
		d.boundaries++
	}
	return r
}

// Reset clears the run state, keeping statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quietRun = 0
	d.fired = false
	d.speaking = false
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ratio := float64(0)
	if d.totalReads > 0 {
		ratio = float64(d.quietReads) / float64(d.totalReads) * 100
	}

	return DetectorStats{
		Threshold:     d.threshold,
		SilenceReads:  d.quietNeeded,
		TotalReads:    d.totalReads,
		QuietReads:    d.quietReads,
		QuietRatio:    ratio,
		Boundaries:    d.boundaries,
		CurrentQuiet:  d.quietRun,
		LastVolume:    d.lastLevel,
		LastProcessed: d.lastProcessed,
	}
}
