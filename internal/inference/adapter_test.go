package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/Zmmoly/Rat50/internal/features"
	"github.com/Zmmoly/Rat50/internal/model"
)

// staticModel returns out for every call and records the last input
func staticModel(out model.Tensor, seen *model.Tensor) *model.Func {
	return &model.Func{
		Signature: model.Info{Name: "static"},
		RunFunc: func(ctx context.Context, input model.Tensor) (model.Tensor, error) {
			if seen != nil {
				*seen = input
			}
			return out, nil
		},
	}
}

func spectrogramProfile() model.Profile {
	return model.Profile{InputKind: model.InputSpectrogram, InputRank: 3, OutputKind: model.OutputLogits}
}

func TestInferSpectrogramShape(t *testing.T) {
	ex, err := features.NewExtractor(features.DefaultParams())
	if err != nil {
		t.Fatalf("Failed to create extractor: %v", err)
	}

	var seen model.Tensor
	out := model.NewFloat32Tensor([]int64{1, 2, 3}, []float32{0, 1, 0, 1, 0, 0})
	a := NewAdapter(staticModel(out, &seen), spectrogramProfile(), ex, 3)

	frame := make([]int16, 16000)
	for i := range frame {
		frame[i] = int16((i % 50) * 100)
	}

	got, err := a.Infer(context.Background(), frame)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	wantShape := []int64{1, 122, 257}
	for i, d := range wantShape {
		if seen.Shape[i] != d {
			t.Fatalf("Expected input shape %v, got %v", wantShape, seen.Shape)
		}
	}
	if len(seen.Float32) != 122*257 {
		t.Errorf("Expected %d values, got %d", 122*257, len(seen.Float32))
	}

	if got.Kind != model.OutputLogits || len(got.Logits) != 2 || len(got.Logits[0]) != 3 {
		t.Errorf("Unexpected output %+v", got)
	}
	if got.Logits[1][0] != 1 {
		t.Errorf("Expected row 1 to start with 1, got %v", got.Logits[1])
	}
}

func TestInferShortFrame(t *testing.T) {
	ex, _ := features.NewExtractor(features.DefaultParams())
	a := NewAdapter(staticModel(model.Tensor{}, nil), spectrogramProfile(), ex, 3)

	_, err := a.Infer(context.Background(), make([]int16, 100))
	if !errors.Is(err, ErrInference) || !errors.Is(err, features.ErrFrameTooShort) {
		t.Errorf("Expected wrapped ErrFrameTooShort, got %v", err)
	}
}

func TestSpectrogramTensorFixedFrames(t *testing.T) {
	p := spectrogramProfile()
	p.FixedFrames = 4
	p.FeatureBins = 2
	a := NewAdapter(nil, p, nil, 0)

	short := &features.Spectrogram{Frames: 2, Bins: 2, Data: []float32{1, 2, 3, 4}}
	tensor, err := a.SpectrogramTensor(short)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if tensor.Shape[1] != 4 || len(tensor.Float32) != 8 || tensor.Float32[3] != 4 || tensor.Float32[7] != 0 {
		t.Errorf("Expected zero-padded tensor, got %v %v", tensor.Shape, tensor.Float32)
	}

	long := &features.Spectrogram{Frames: 5, Bins: 2, Data: []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}
	tensor, err = a.SpectrogramTensor(long)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(tensor.Float32) != 8 || tensor.Float32[7] != 8 {
		t.Errorf("Expected truncated tensor, got %v", tensor.Float32)
	}

	wrongWidth := &features.Spectrogram{Frames: 1, Bins: 3, Data: []float32{1, 2, 3}}
	if _, err := a.SpectrogramTensor(wrongWidth); !errors.Is(err, ErrInference) {
		t.Errorf("Expected ErrInference for width mismatch, got %v", err)
	}
	if _, err := a.SpectrogramTensor(&features.Spectrogram{}); !errors.Is(err, ErrInference) {
		t.Errorf("Expected ErrInference for empty spectrogram, got %v", err)
	}
}

func TestRawAudioTensor(t *testing.T) {
	tests := []struct {
		name      string
		rank      int
		required  int
		frame     []int16
		wantShape []int64
		wantLast  float32
	}{
		{"padded rank 2", 2, 6, []int16{32767, -32767, 0}, []int64{1, 6}, 0},
		{"truncated rank 1", 1, 2, []int16{32767, 0, 100}, []int64{2}, 0},
		{"exact", 2, 2, []int16{0, 32767}, []int64{1, 2}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(nil, model.Profile{InputKind: model.InputRawAudio, InputRank: tt.rank, RequiredSamples: tt.required}, nil, 0)
			tensor := a.RawAudioTensor(tt.frame)
			if len(tensor.Shape) != len(tt.wantShape) {
				t.Fatalf("Expected shape %v, got %v", tt.wantShape, tensor.Shape)
			}
			for i := range tt.wantShape {
				if tensor.Shape[i] != tt.wantShape[i] {
					t.Fatalf("Expected shape %v, got %v", tt.wantShape, tensor.Shape)
				}
			}
			if tensor.Float32[0] != float32(float64(tt.frame[0])/32767) {
				t.Errorf("Expected first sample scaled, got %v", tensor.Float32[0])
			}
			if last := tensor.Float32[len(tensor.Float32)-1]; last != tt.wantLast {
				t.Errorf("Expected last sample %v, got %v", tt.wantLast, last)
			}
		})
	}
}

func TestRunOutputShapes(t *testing.T) {
	tests := []struct {
		name      string
		profile   model.Profile
		classes   int
		out       model.Tensor
		wantKind  model.OutputKind
		wantSteps int
		wantErr   bool
	}{
		{
			name:      "logits rank 3 first batch",
			profile:   model.Profile{OutputKind: model.OutputLogits},
			out:       model.NewFloat32Tensor([]int64{2, 2, 2}, []float32{1, 0, 0, 1, 9, 9, 9, 9}),
			wantKind:  model.OutputLogits,
			wantSteps: 2,
		},
		{
			name:      "logits rank 2",
			profile:   model.Profile{OutputKind: model.OutputLogits},
			out:       model.NewFloat32Tensor([]int64{3, 2}, []float32{1, 0, 0, 1, 1, 0}),
			wantKind:  model.OutputLogits,
			wantSteps: 3,
		},
		{
			name:      "logits rank 1 split by classes",
			profile:   model.Profile{OutputKind: model.OutputLogits},
			classes:   3,
			out:       model.NewFloat32Tensor([]int64{6}, []float32{1, 0, 0, 0, 1, 0}),
			wantKind:  model.OutputLogits,
			wantSteps: 2,
		},
		{
			name:    "logits rank 1 not divisible",
			profile: model.Profile{OutputKind: model.OutputLogits},
			classes: 4,
			out:     model.NewFloat32Tensor([]int64{6}, []float32{1, 0, 0, 0, 1, 0}),
			wantErr: true,
		},
		{
			name:    "logits shape larger than data",
			profile: model.Profile{OutputKind: model.OutputLogits},
			out:     model.NewFloat32Tensor([]int64{4, 2}, []float32{1, 0}),
			wantErr: true,
		},
		{
			name:      "int32 indices widened",
			profile:   model.Profile{OutputKind: model.OutputIndices},
			out:       model.Tensor{Shape: []int64{3}, Type: model.Int32, Int32: []int32{1, 2, 3}},
			wantKind:  model.OutputIndices,
			wantSteps: 3,
		},
		{
			name:      "batched indices",
			profile:   model.Profile{OutputKind: model.OutputIndices},
			out:       model.Tensor{Shape: []int64{2, 2}, Type: model.Int64, Int64: []int64{5, 6, 7, 8}},
			wantKind:  model.OutputIndices,
			wantSteps: 2,
		},
		{
			name:    "float output for index model",
			profile: model.Profile{OutputKind: model.OutputIndices},
			out:     model.NewFloat32Tensor([]int64{2}, []float32{1, 2}),
			wantErr: true,
		},
		{
			name:    "empty output",
			profile: model.Profile{OutputKind: model.OutputLogits},
			out:     model.NewFloat32Tensor([]int64{0, 33}, nil),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(staticModel(tt.out, nil), tt.profile, nil, tt.classes)
			got, err := a.Run(context.Background(), model.NewFloat32Tensor([]int64{1}, []float32{0}))
			if tt.wantErr {
				if !errors.Is(err, ErrInference) {
					t.Errorf("Expected ErrInference, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s", tt.wantKind, got.Kind)
			}
			if got.Steps() != tt.wantSteps {
				t.Errorf("Expected %d steps, got %d", tt.wantSteps, got.Steps())
			}
		})
	}
}

func TestRunWithoutModel(t *testing.T) {
	a := NewAdapter(nil, spectrogramProfile(), nil, 0)
	if _, err := a.Run(context.Background(), model.Tensor{}); !errors.Is(err, ErrInference) {
		t.Errorf("Expected ErrInference, got %v", err)
	}
}

func TestRunPropagatesModelError(t *testing.T) {
	boom := errors.New("session failed")
	m := &model.Func{RunFunc: func(ctx context.Context, input model.Tensor) (model.Tensor, error) {
		return model.Tensor{}, boom
	}}
	a := NewAdapter(m, spectrogramProfile(), nil, 0)
	_, err := a.Run(context.Background(), model.Tensor{})
	if !errors.Is(err, ErrInference) || !errors.Is(err, boom) {
		t.Errorf("Expected wrapped model error, got %v", err)
	}
}
