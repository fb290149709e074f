package stream

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zmmoly/Rat50/internal/ctc"
	"github.com/Zmmoly/Rat50/internal/inference"
)

// Pipeline runs one frame through feature extraction, the model and the
// CTC decoder
type Pipeline struct {
	adapter  *inference.Adapter
	decoder  *ctc.Decoder
	tracer   trace.Tracer
	recorder Recorder
}

// NewPipeline creates a pipeline over a prepared adapter and decoder
func NewPipeline(adapter *inference.Adapter, decoder *ctc.Decoder, tracer trace.Tracer, recorder Recorder) *Pipeline {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Pipeline{adapter: adapter, decoder: decoder, tracer: tracer, recorder: recorder}
}

// Process returns the decoded text of one frame
func (p *Pipeline) Process(ctx context.Context, frame []int16) (string, error) {
	ctx, span := p.tracer.Start(ctx, "stream.process_frame",
		trace.WithAttributes(attribute.Int("frame.samples", len(frame))))
	defer span.End()

	start := time.Now()
	text, err := p.process(ctx, frame)
	p.recorder.RecordFrame(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	p.recorder.RecordDecode(text == "")
	span.SetAttributes(attribute.Int("text.length", len(text)))
	return text, nil
}

func (p *Pipeline) process(ctx context.Context, frame []int16) (string, error) {
	_, prepSpan := p.tracer.Start(ctx, "stream.prepare_input")
	input, err := p.adapter.Prepare(frame)
	prepSpan.End()
	if err != nil {
		return "", err
	}

	inferCtx, inferSpan := p.tracer.Start(ctx, "stream.infer")
	out, err := p.adapter.Run(inferCtx, input)
	if err == nil {
		inferSpan.SetAttributes(
			attribute.String("output.kind", out.Kind.String()),
			attribute.Int("output.steps", out.Steps()),
		)
	}
	inferSpan.End()
	if err != nil {
		return "", err
	}

	_, decodeSpan := p.tracer.Start(ctx, "stream.decode")
	text := p.decoder.Decode(out)
	decodeSpan.End()
	return text, nil
}
