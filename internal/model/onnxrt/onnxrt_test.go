package onnxrt

import (
	"context"
	"os"
	"testing"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Zmmoly/Rat50/internal/model"
)

func TestElementType(t *testing.T) {
	tests := []struct {
		in   ort.TensorElementDataType
		want model.ElementType
	}{
		{ort.TensorElementDataTypeFloat, model.Float32},
		{ort.TensorElementDataTypeInt32, model.Int32},
		{ort.TensorElementDataTypeInt64, model.Int64},
		{ort.TensorElementDataTypeDouble, model.Unknown},
	}
	for _, tt := range tests {
		if got := elementType(tt.in); got != tt.want {
			t.Errorf("Expected %s, got %s", tt.want, got)
		}
	}
}

func TestTensorInfoCopiesShape(t *testing.T) {
	io := ort.InputOutputInfo{
		Name:       "features",
		Dimensions: ort.NewShape(1, -1, 257),
		DataType:   ort.TensorElementDataTypeFloat,
	}
	info := tensorInfo(io)
	io.Dimensions[2] = 80
	if info.Shape[2] != 257 {
		t.Errorf("Expected shape to be copied, got %v", info.Shape)
	}
	if info.Dim(1) != -1 {
		t.Errorf("Expected dynamic time axis, got %d", info.Dim(1))
	}
}

// TestOpenModel needs ONNXRUNTIME_LIB and ASR_TEST_MODEL pointing at a real
// runtime library and model
func TestOpenModel(t *testing.T) {
	lib := os.Getenv("ONNXRUNTIME_LIB")
	path := os.Getenv("ASR_TEST_MODEL")
	if lib == "" || path == "" {
		t.Skipf("ONNXRUNTIME_LIB or ASR_TEST_MODEL not set")
	}

	m, err := Opener(lib)(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to open model: %v", err)
	}
	defer m.Close()

	profile, err := model.DetectProfile(m.Info(), model.Overrides{})
	if err != nil {
		t.Fatalf("Failed to detect profile: %v", err)
	}
	t.Logf("Detected profile: %s", profile)
}
