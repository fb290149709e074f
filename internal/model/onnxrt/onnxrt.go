// Package onnxrt runs acoustic models through ONNX Runtime.
package onnxrt

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Zmmoly/Rat50/internal/model"
)

var (
	envOnce sync.Once
	envErr  error
)

// Initialize loads the ONNX Runtime shared library once per process.
// An empty libPath uses the platform default search path.
func Initialize(libPath string) error {
	envOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Opener returns a model.OpenFunc bound to libPath
func Opener(libPath string) model.OpenFunc {
	return func(ctx context.Context, path string) (model.Model, error) {
		if err := Initialize(libPath); err != nil {
			return nil, fmt.Errorf("onnxruntime init: %w", err)
		}
		return Open(path)
	}
}

// Model is a loaded ONNX session with one input and one output in use
type Model struct {
	session *ort.DynamicAdvancedSession
	info    model.Info
	mu      sync.Mutex
}

// Open reads the model signature and creates a session
func Open(path string) (*Model, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model has %d inputs and %d outputs", len(inputs), len(outputs))
	}

	info := model.Info{Name: filepath.Base(path)}
	for _, in := range inputs {
		info.Inputs = append(info.Inputs, tensorInfo(in))
	}
	for _, out := range outputs {
		info.Outputs = append(info.Outputs, tensorInfo(out))
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &Model{session: session, info: info}, nil
}

func tensorInfo(io ort.InputOutputInfo) model.TensorInfo {
	shape := make([]int64, len(io.Dimensions))
	copy(shape, io.Dimensions)
	return model.TensorInfo{
		Name:  io.Name,
		Shape: shape,
		Type:  elementType(io.DataType),
	}
}

func elementType(t ort.TensorElementDataType) model.ElementType {
	switch t {
	case ort.TensorElementDataTypeFloat:
		return model.Float32
	case ort.TensorElementDataTypeInt32:
		return model.Int32
	case ort.TensorElementDataTypeInt64:
		return model.Int64
	default:
		return model.Unknown
	}
}

// Info returns the model signature
func (m *Model) Info() model.Info {
	return m.info
}

// Run executes one forward pass. ONNX Runtime sessions are not cancellable
// mid-run, so ctx is only checked before starting.
func (m *Model) Run(ctx context.Context, input model.Tensor) (model.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return model.Tensor{}, err
	}
	if input.Type != model.Float32 {
		return model.Tensor{}, fmt.Errorf("unsupported input type %s", input.Type)
	}

	in, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Float32)
	if err != nil {
		return model.Tensor{}, fmt.Errorf("create input tensor: %w", err)
	}
	defer in.Destroy()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return model.Tensor{}, fmt.Errorf("model %s is closed", m.info.Name)
	}

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{in}, outputs); err != nil {
		return model.Tensor{}, fmt.Errorf("run: %w", err)
	}
	defer outputs[0].Destroy()

	return fromValue(outputs[0])
}

func fromValue(v ort.Value) (model.Tensor, error) {
	shape := []int64(v.GetShape())
	out := model.Tensor{Shape: append([]int64(nil), shape...)}

	switch t := v.(type) {
	case *ort.Tensor[float32]:
		out.Type = model.Float32
		out.Float32 = append([]float32(nil), t.GetData()...)
	case *ort.Tensor[int64]:
		out.Type = model.Int64
		out.Int64 = append([]int64(nil), t.GetData()...)
	case *ort.Tensor[int32]:
		out.Type = model.Int32
		out.Int32 = append([]int32(nil), t.GetData()...)
	default:
		return model.Tensor{}, fmt.Errorf("unsupported output value %T", v)
	}
	return out, nil
}

// Close releases the session
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
