package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Zmmoly/Rat50/internal/audio"
	"github.com/Zmmoly/Rat50/internal/stream"
)

// Recorder receives per-sink delivery outcomes
type Recorder interface {
	RecordTranscript(sink string, err error)
}

// Sink archives final utterances: the clip is written as WAV, the transcript
// stored and then published. Every part is optional.
type Sink struct {
	Store     *Store
	Publisher *Publisher
	WAVDir    string
	Recorder  Recorder
	Logger    *slog.Logger
}

var _ stream.Sink = (*Sink)(nil)

// Handle implements stream.Sink
func (s *Sink) Handle(ctx context.Context, e stream.Event) error {
	switch e.Type {
	case stream.EventModelLoaded:
		if s.Store == nil || e.Model == nil {
			return nil
		}
		return s.Store.SetLastModelPath(ctx, e.Model.Path)
	case stream.EventText:
	default:
		return nil
	}

	t, ok := FromEvent(e)
	if !ok {
		return nil
	}

	var errs []error
	if s.WAVDir != "" && e.Clip != nil && len(e.Clip.Samples) > 0 {
		path := ClipPath(s.WAVDir, t.ID)
		err := audio.WriteWAV(path, e.Clip.Samples, e.Clip.SampleRate)
		s.record("wav", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("write clip: %w", err))
		} else {
			t.AudioPath = path
		}
	}

	if s.Store != nil {
		err := s.Store.Save(ctx, t)
		s.record("sqlite", err)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if s.Publisher != nil {
		err := s.Publisher.Publish(t)
		s.record("nats", err)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if s.Logger != nil {
		s.Logger.Debug("Transcript archived",
			slog.String("utterance_id", t.ID),
			slog.String("audio_path", t.AudioPath),
		)
	}
	return errors.Join(errs...)
}

func (s *Sink) record(sink string, err error) {
	if s.Recorder != nil {
		s.Recorder.RecordTranscript(sink, err)
	}
}

// ClipPath returns where the clip for utterance id is written
func ClipPath(dir, id string) string {
	return filepath.Join(dir, id+".wav")
}
