package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Zmmoly/Rat50/internal/ctc"
	"github.com/Zmmoly/Rat50/internal/inference"
	"github.com/Zmmoly/Rat50/internal/model"
)

type countingRecorder struct {
	nopRecorder
	frames    int
	failures  int
	empty     int
	decoded   int
	lastState string
}

func (r *countingRecorder) RecordFrame(_ time.Duration, err error) {
	r.frames++
	if err != nil {
		r.failures++
	}
}

func (r *countingRecorder) RecordDecode(empty bool) {
	if empty {
		r.empty++
	} else {
		r.decoded++
	}
}

func (r *countingRecorder) RecordState(state string) {
	r.lastState = state
}

func newTestPipeline(t *testing.T, m model.Model) (*Pipeline, *tracetest.InMemoryExporter, *countingRecorder) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	profile, err := model.DetectProfile(m.Info(), model.Overrides{})
	if err != nil {
		t.Fatalf("DetectProfile failed: %v", err)
	}
	vocab, err := ctc.NewVocabulary([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("NewVocabulary failed: %v", err)
	}

	rec := &countingRecorder{}
	adapter := inference.NewAdapter(m, profile, nil, profile.Classes(vocab.Len()))
	decoder := ctc.NewDecoder(vocab, profile.BlankIndex(vocab.Len()), profile.IndexOffset)
	return NewPipeline(adapter, decoder, tp.Tracer("test"), rec), exp, rec
}

func TestPipelineProcess(t *testing.T) {
	p, exp, rec := newTestPipeline(t, rawAudioModel(8))

	text, err := p.Process(context.Background(), block(1000, 8))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if text != "a" {
		t.Errorf("Expected 'a', got %q", text)
	}

	text, err = p.Process(context.Background(), block(0, 8))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if text != "" {
		t.Errorf("Expected empty text for silence, got %q", text)
	}

	if rec.frames != 2 || rec.decoded != 1 || rec.empty != 1 {
		t.Errorf("Expected 2 frames, 1 decoded, 1 empty; got %d, %d, %d", rec.frames, rec.decoded, rec.empty)
	}

	names := make(map[string]int)
	for _, span := range exp.GetSpans() {
		names[span.Name]++
	}
	for _, want := range []string{"stream.process_frame", "stream.prepare_input", "stream.infer", "stream.decode"} {
		if names[want] != 2 {
			t.Errorf("Expected 2 %s spans, got %d", want, names[want])
		}
	}
}

func TestPipelineProcessError(t *testing.T) {
	m := rawAudioModel(8)
	m.RunFunc = func(ctx context.Context, input model.Tensor) (model.Tensor, error) {
		return model.Tensor{}, errors.New("boom")
	}
	p, exp, rec := newTestPipeline(t, m)

	_, err := p.Process(context.Background(), block(1000, 8))
	if !errors.Is(err, inference.ErrInference) {
		t.Fatalf("Expected ErrInference, got %v", err)
	}
	if rec.failures != 1 {
		t.Errorf("Expected 1 recorded failure, got %d", rec.failures)
	}

	var root *tracetest.SpanStub
	spans := exp.GetSpans()
	for i := range spans {
		if spans[i].Name == "stream.process_frame" {
			root = &spans[i]
		}
	}
	if root == nil {
		t.Fatal("Expected a stream.process_frame span")
	}
	if root.Status.Code.String() != "Error" {
		t.Errorf("Expected error status, got %s", root.Status.Code)
	}
	if names := len(spans); names != 3 {
		t.Errorf("Expected 3 spans without a decode span, got %d", names)
	}
}
