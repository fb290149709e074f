package audio

import (
	"sync"
	"time"
)

// Clip is the audio of one finished utterance
type Clip struct {
	ID         string        `json:"id"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sample_rate"`
	Samples    []int16       `json:"-"`
	Truncated  bool          `json:"truncated"`
}

// Chunker collects the samples of the utterance in progress. Audio beyond
// the maximum length is dropped and the clip marked truncated.
type Chunker struct {
	sampleRate int
	maxSamples int

	current    []int16
	startTime  time.Time
	collecting bool
	truncated  bool

	clipsCreated  uint64
	totalDuration time.Duration

	mu sync.RWMutex
}

// ChunkerStats represents chunker statistics
type ChunkerStats struct {
	Collecting    bool          `json:"collecting"`
	ClipsCreated  uint64        `json:"clips_created"`
	TotalDuration time.Duration `json:"total_duration"`
	CurrentSize   int           `json:"current_clip_samples"`
	AvgClipSize   float64       `json:"avg_clip_duration_sec"`
}

// NewChunker creates a chunker; maxDuration <= 0 means unbounded
func NewChunker(sampleRate int, maxDuration time.Duration) *Chunker {
	maxSamples := 0
	if maxDuration > 0 {
		maxSamples = int(maxDuration.Seconds() * float64(sampleRate))
	}
	return &Chunker{sampleRate: sampleRate, maxSamples: maxSamples}
}

// Append adds samples to the current clip, starting one if needed
func (c *Chunker) Append(samples []int16) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.collecting {
		c.collecting = true
		c.startTime = time.Now()
		c.current = c.current[:0]
		c.truncated = false
	}

	if c.maxSamples > 0 {
		room := c.maxSamples - len(c.current)
		if room <= 0 {
			c.truncated = true
			return
		}
		if len(samples) > room {
			samples = samples[:room]
			c.truncated = true
		}
	}
	c.current = append(c.current, samples...)
}

// Finalize closes the current clip. It returns nil when nothing was collected.
func (c *Chunker) Finalize(id string) *Clip {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.collecting || len(c.current) == 0 {
		c.collecting = false
		return nil
	}

	samples := make([]int16, len(c.current))
	copy(samples, c.current)
	duration := time.Duration(len(samples)) * time.Second / time.Duration(c.sampleRate)

	clip := &Clip{
		ID:         id,
		StartTime:  c.startTime,
		EndTime:    time.Now(),
		Duration:   duration,
		SampleRate: c.sampleRate,
		Samples:    samples,
		Truncated:  c.truncated,
	}

	c.collecting = false
	c.current = c.current[:0]
	c.clipsCreated++
	c.totalDuration += duration
	return clip
}

// Discard drops the clip in progress
func (c *Chunker) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collecting = false
	c.current = c.current[:0]
}

// GetStats returns current chunker statistics
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	avg := float64(0)
	if c.clipsCreated > 0 {
		avg = c.totalDuration.Seconds() / float64(c.clipsCreated)
	}
	return ChunkerStats{
		Collecting:    c.collecting,
		ClipsCreated:  c.clipsCreated,
		TotalDuration: c.totalDuration,
		CurrentSize:   len(c.current),
		AvgClipSize:   avg,
	}
}
