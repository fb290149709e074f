package audio

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"
)

// JitterBuffer reorders sequenced PCM packets and exposes them as an
// in-order sample stream. Packets missing for more than maxGap sequence
// numbers are declared lost and skipped.
type JitterBuffer struct {
	samples []int16

	started     bool
	lastSeq     uint32
	expectedSeq uint32
	pending     map[uint32][]int16
	maxGap      uint32

	lastUpdate   time.Time
	totalPackets uint32
	lostCount    uint32
	lateCount    uint32

	mu sync.Mutex
}

// JitterStats represents buffer statistics for monitoring
type JitterStats struct {
	TotalPackets uint32  `json:"total_packets"`
	LostPackets  uint32  `json:"lost_packets"`
	LatePackets  uint32  `json:"late_packets"`
	LossRate     float64 `json:"loss_rate"`
	Buffered     int     `json:"buffered_samples"`
	PendingSeqs  int     `json:"pending_sequences"`
	LastSequence uint32  `json:"last_sequence"`
}

// NewJitterBuffer creates a buffer that waits for up to maxGap missing packets
func NewJitterBuffer(maxGap int) *JitterBuffer {
	if maxGap < 1 {
		maxGap = 1
	}
	return &JitterBuffer{
		pending: make(map[uint32][]int16),
		maxGap:  uint32(maxGap),
	}
}

// Add inserts a little-endian PCM payload with its sequence number
func (b *JitterBuffer) Add(sequence uint32, pcm []byte) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("audio data length must be even (got %d bytes)", len(pcm))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastUpdate = time.Now()
	b.totalPackets++

	if !b.started {
		b.started = true
		b.expectedSeq = sequence
		b.lastSeq = sequence - 1
	}

	switch {
	case sequence == b.expectedSeq:
		b.samples = append(b.samples, BytesToSamples(pcm)...)
		b.lastSeq = sequence
		b.expectedSeq = sequence + 1
		b.drainPending()

	case sequence-b.expectedSeq < 1<<31:
		// Ahead of the expected sequence, modulo wraparound
		b.pending[sequence] = BytesToSamples(pcm)
		if sequence-b.expectedSeq > b.maxGap {
			b.skipTo(sequence)
		}

	default:
		b.lateCount++
		return fmt.Errorf("ignoring old/duplicate packet: seq=%d, lastSeq=%d", sequence, b.lastSeq)
	}

	return nil
}

// skipTo declares everything before seq lost and resumes from the earliest
// pending packet at or after the new position. Cost is bounded by the number
// of pending packets, not by the size of the gap.
func (b *JitterBuffer) skipTo(seq uint32) {
	gap := seq - b.expectedSeq

	// Packets buffered inside the skipped range are still played in order
	var skipped []uint32
	for s := range b.pending {
		if s-b.expectedSeq < gap {
			skipped = append(skipped, s)
		}
	}
	slices.SortFunc(skipped, func(x, y uint32) int {
		return cmp.Compare(x-b.expectedSeq, y-b.expectedSeq)
	})
	for _, s := range skipped {
		b.samples = append(b.samples, b.pending[s]...)
		delete(b.pending, s)
		b.lastSeq = s
	}

	b.lostCount += gap - uint32(len(skipped))
	b.expectedSeq = seq
	b.drainPending()
}

func (b *JitterBuffer) drainPending() {
	for {
		data, ok := b.pending[b.expectedSeq]
		if !ok {
			return
		}
		b.samples = append(b.samples, data...)
		delete(b.pending, b.expectedSeq)
		b.lastSeq = b.expectedSeq
		b.expectedSeq++
	}
}

// FlushPending gives up on every gap and releases all pending packets in
// sequence order
func (b *JitterBuffer) FlushPending() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.pending) > 0 {
		next := b.expectedSeq
		best := uint32(1<<32 - 1)
		for s := range b.pending {
			if d := s - b.expectedSeq; d < best {
				best = d
				next = s
			}
		}
		b.skipTo(next)
	}
}

// Read moves up to len(dst) ordered samples into dst
func (b *JitterBuffer) Read(dst []int16) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := copy(dst, b.samples)
	b.samples = b.samples[:copy(b.samples, b.samples[n:])]
	return n
}

// Buffered returns the number of ordered samples ready to read
func (b *JitterBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// GetStats returns current buffer statistics
func (b *JitterBuffer) GetStats() JitterStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	lossRate := float64(0)
	if b.totalPackets > 0 {
		lossRate = float64(b.lostCount) / float64(b.totalPackets+b.lostCount) * 100
	}

	return JitterStats{
		TotalPackets: b.totalPackets,
		LostPackets:  b.lostCount,
		LatePackets:  b.lateCount,
		LossRate:     lossRate,
		Buffered:     len(b.samples),
		PendingSeqs:  len(b.pending),
		LastSequence: b.lastSeq,
	}
}
