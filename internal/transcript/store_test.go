package transcript

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "transcripts.db"), newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), "", newLogger()); err == nil {
		t.Fatal("Expected error for empty path")
	}
}

func TestSaveAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	records := []Transcript{
		{ID: "u1", SessionID: "s1", Text: "مرحبا", Reason: "silence", Duration: 1500 * time.Millisecond, SampleRate: 16000, CreatedAt: base},
		{ID: "u2", SessionID: "s1", Text: "hello", Reason: "stop", CreatedAt: base.Add(time.Second), Truncated: true},
		{ID: "u3", SessionID: "s2", Text: "other", Reason: "stop", CreatedAt: base.Add(2 * time.Second), AudioPath: "/tmp/u3.wav"},
	}
	for _, r := range records {
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("save %s: %v", r.ID, err)
		}
	}

	all, err := s.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 transcripts, got %d", len(all))
	}
	if all[0].ID != "u3" || all[2].ID != "u1" {
		t.Errorf("Expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}
	if all[0].AudioPath != "/tmp/u3.wav" {
		t.Errorf("Expected audio path to round trip, got %q", all[0].AudioPath)
	}

	first := all[2]
	if first.Text != "مرحبا" {
		t.Errorf("Expected Arabic text to round trip, got %q", first.Text)
	}
	if first.Duration != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s duration, got %v", first.Duration)
	}
	if !first.CreatedAt.Equal(base) {
		t.Errorf("Expected created_at %v, got %v", base, first.CreatedAt)
	}
	if !all[1].Truncated {
		t.Error("Expected truncated flag to round trip")
	}

	session, err := s.List(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("list session: %v", err)
	}
	if len(session) != 1 || session[0].ID != "u2" {
		t.Errorf("Expected only u2 for s1 with limit 1, got %+v", session)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected count 3, got %d", n)
	}
}

func TestSaveReplacesSameID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, Transcript{ID: "u1", SessionID: "s1", Text: "first"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, Transcript{ID: "u1", SessionID: "s1", Text: "second"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	all, err := s.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].Text != "second" {
		t.Errorf("Expected a single replaced row, got %+v", all)
	}
	if err := s.Save(ctx, Transcript{SessionID: "s1", Text: "no id"}); err == nil {
		t.Error("Expected error for empty id")
	}
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.LastModelPath(ctx); err != nil || ok {
		t.Fatalf("Expected no model path yet, got ok=%v err=%v", ok, err)
	}

	if err := s.SetLastModelPath(ctx, "/models/a.onnx"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetLastModelPath(ctx, "/models/b.onnx"); err != nil {
		t.Fatalf("set: %v", err)
	}

	path, ok, err := s.LastModelPath(ctx)
	if err != nil || !ok {
		t.Fatalf("Expected stored model path, got ok=%v err=%v", ok, err)
	}
	if path != "/models/b.onnx" {
		t.Errorf("Expected /models/b.onnx, got %s", path)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.db")
	ctx := context.Background()

	s, err := Open(ctx, path, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SetLastModelPath(ctx, "https://models.example/asr"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(ctx, path, newLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, ok, err := s.LastModelPath(ctx)
	if err != nil || !ok || got != "https://models.example/asr" {
		t.Errorf("Expected persisted model path, got %q ok=%v err=%v", got, ok, err)
	}
}
