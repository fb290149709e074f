package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zmmoly/Rat50/internal/audio"
	"github.com/Zmmoly/Rat50/internal/features"
	"github.com/Zmmoly/Rat50/internal/model"
)

// ErrInference marks failures while shaping input, running the model or
// interpreting its output
var ErrInference = errors.New("inference error")

// Adapter turns a PCM frame into a model input tensor, runs the model and
// normalises the output into a model.Output
type Adapter struct {
	model     model.Model
	profile   model.Profile
	extractor *features.Extractor
	classes   int // logits width for flat outputs
}

// NewAdapter creates an adapter. extractor may be nil for raw-audio models.
// classes is the expected logits width, used only to split flat outputs.
func NewAdapter(m model.Model, p model.Profile, extractor *features.Extractor, classes int) *Adapter {
	return &Adapter{model: m, profile: p, extractor: extractor, classes: classes}
}

// Profile returns the model contract in use
func (a *Adapter) Profile() model.Profile {
	return a.profile
}

// Infer prepares frame according to the model input kind and runs it
func (a *Adapter) Infer(ctx context.Context, frame []int16) (model.Output, error) {
	input, err := a.Prepare(frame)
	if err != nil {
		return model.Output{}, err
	}
	return a.Run(ctx, input)
}

// Prepare builds the input tensor for frame
func (a *Adapter) Prepare(frame []int16) (model.Tensor, error) {
	if a.profile.InputKind == model.InputRawAudio {
		return a.RawAudioTensor(frame), nil
	}
	if a.extractor == nil {
		return model.Tensor{}, fmt.Errorf("%w: spectrogram model without feature extractor", ErrInference)
	}
	spec, err := a.extractor.Extract(frame)
	if err != nil {
		return model.Tensor{}, fmt.Errorf("%w: %w", ErrInference, err)
	}
	return a.SpectrogramTensor(spec)
}

// SpectrogramTensor shapes features as [1, T, F], padding or truncating T
// when the model declares a fixed frame count
func (a *Adapter) SpectrogramTensor(spec *features.Spectrogram) (model.Tensor, error) {
	if spec == nil || spec.Frames == 0 {
		return model.Tensor{}, fmt.Errorf("%w: empty spectrogram", ErrInference)
	}
	if a.profile.FeatureBins > 0 && spec.Bins != a.profile.FeatureBins {
		return model.Tensor{}, fmt.Errorf("%w: model expects %d feature bins, got %d",
			ErrInference, a.profile.FeatureBins, spec.Bins)
	}

	frames := spec.Frames
	data := spec.Data
	if fixed := a.profile.FixedFrames; fixed > 0 && fixed != frames {
		data = fitLength(data, fixed*spec.Bins)
		frames = fixed
	}
	return model.NewFloat32Tensor([]int64{1, int64(frames), int64(spec.Bins)}, data), nil
}

// RawAudioTensor scales samples to [-1, 1] and pads or truncates them to
// the required length
func (a *Adapter) RawAudioTensor(frame []int16) model.Tensor {
	n := a.profile.RequiredSamples
	if n <= 0 {
		n = len(frame)
	}
	data := make([]float32, n)
	for i := 0; i < n && i < len(frame); i++ {
		data[i] = float32(float64(frame[i]) / audio.MaxAmplitude)
	}

	shape := []int64{1, int64(n)}
	if a.profile.InputRank == 1 {
		shape = []int64{int64(n)}
	}
	return model.NewFloat32Tensor(shape, data)
}

func fitLength(data []float32, n int) []float32 {
	if len(data) >= n {
		return data[:n]
	}
	out := make([]float32, n)
	copy(out, data)
	return out
}

// Run executes the model and interprets its output per the profile
func (a *Adapter) Run(ctx context.Context, input model.Tensor) (model.Output, error) {
	if a.model == nil {
		return model.Output{}, fmt.Errorf("%w: no model loaded", ErrInference)
	}

	out, err := a.model.Run(ctx, input)
	if err != nil {
		return model.Output{}, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if out.Len() == 0 {
		return model.Output{}, fmt.Errorf("%w: model returned an empty tensor", ErrInference)
	}

	if a.profile.OutputKind == model.OutputIndices {
		return toIndices(out)
	}
	return a.toLogits(out)
}

func toIndices(t model.Tensor) (model.Output, error) {
	ids, ok := t.Ints()
	if !ok {
		return model.Output{}, fmt.Errorf("%w: expected integer output, got %s", ErrInference, t.Type)
	}
	// [1, T]: keep the first batch row
	if len(t.Shape) == 2 && t.Shape[1] > 0 && int(t.Shape[1]) <= len(ids) {
		ids = ids[:t.Shape[1]]
	}
	return model.Output{Kind: model.OutputIndices, Indices: ids}, nil
}

func (a *Adapter) toLogits(t model.Tensor) (model.Output, error) {
	if t.Type != model.Float32 {
		return model.Output{}, fmt.Errorf("%w: expected float output, got %s", ErrInference, t.Type)
	}
	data := t.Float32

	var width, steps int
	switch len(t.Shape) {
	case 3: // [B, T, C], first batch
		steps, width = int(t.Shape[1]), int(t.Shape[2])
	case 2: // [T, C]
		steps, width = int(t.Shape[0]), int(t.Shape[1])
	case 1: // [T*C]
		width = a.classes
		if width <= 0 || len(data)%width != 0 {
			return model.Output{}, fmt.Errorf("%w: cannot split %d logits into %d classes",
				ErrInference, len(data), width)
		}
		steps = len(data) / width
	default:
		return model.Output{}, fmt.Errorf("%w: unsupported logits rank %d", ErrInference, len(t.Shape))
	}

	if width <= 0 || steps < 0 || steps*width > len(data) {
		return model.Output{}, fmt.Errorf("%w: logits shape %v does not match %d values",
			ErrInference, t.Shape, len(data))
	}

	rows := make([][]float32, steps)
	for i := range rows {
		rows[i] = data[i*width : (i+1)*width]
	}
	return model.Output{Kind: model.OutputLogits, Logits: rows}, nil
}
