package transcript

import (
	"time"

	"github.com/Zmmoly/Rat50/internal/stream"
)

// Transcript is one completed utterance
type Transcript struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Text       string        `json:"text"`
	Reason     string        `json:"reason"`
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sample_rate,omitempty"`
	Truncated  bool          `json:"truncated,omitempty"`
	AudioPath  string        `json:"audio_path,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// FromEvent builds a transcript from a final text event. Partial and empty
// results report false.
func FromEvent(e stream.Event) (Transcript, bool) {
	if e.Type != stream.EventText || !e.IsFinal || e.Text == "" {
		return Transcript{}, false
	}

	t := Transcript{
		ID:        e.UtteranceID,
		SessionID: e.SessionID,
		Text:      e.Text,
		Reason:    e.Reason,
		CreatedAt: e.Timestamp,
	}
	if e.Clip != nil {
		t.Duration = e.Clip.Duration
		t.SampleRate = e.Clip.SampleRate
		t.Truncated = e.Clip.Truncated
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	return t, true
}
