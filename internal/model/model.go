package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrModelLoad marks failures to locate, validate or construct a model
var ErrModelLoad = errors.New("model load error")

// ElementType is the scalar type of a tensor
type ElementType int

const (
	Unknown ElementType = iota
	Float32
	Int32
	Int64
)

func (e ElementType) String() string {
	switch e {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}

// ParseElementType maps a type name back to an ElementType
func ParseElementType(name string) ElementType {
	switch name {
	case "float32", "float":
		return Float32
	case "int32":
		return Int32
	case "int64":
		return Int64
	default:
		return Unknown
	}
}

// TensorInfo describes one declared model input or output.
// Negative dimensions are dynamic.
type TensorInfo struct {
	Name  string      `json:"name"`
	Shape []int64     `json:"shape"`
	Type  ElementType `json:"-"`
}

// Rank returns the number of dimensions
func (t TensorInfo) Rank() int {
	return len(t.Shape)
}

// Dim returns the size of axis, or -1 when it is dynamic or absent
func (t TensorInfo) Dim(axis int) int64 {
	if axis < 0 || axis >= len(t.Shape) || t.Shape[axis] <= 0 {
		return -1
	}
	return t.Shape[axis]
}

func (t TensorInfo) String() string {
	return fmt.Sprintf("%s%v:%s", t.Name, t.Shape, t.Type)
}

// Info is the introspected signature of a loaded model
type Info struct {
	Name    string       `json:"name"`
	Inputs  []TensorInfo `json:"inputs"`
	Outputs []TensorInfo `json:"outputs"`
}

// Tensor is a dense row-major tensor holding exactly one of its data slices
type Tensor struct {
	Shape   []int64
	Type    ElementType
	Float32 []float32
	Int32   []int32
	Int64   []int64
}

// NewFloat32Tensor wraps data with shape
func NewFloat32Tensor(shape []int64, data []float32) Tensor {
	return Tensor{Shape: shape, Type: Float32, Float32: data}
}

// Len returns the number of elements
func (t Tensor) Len() int {
	switch t.Type {
	case Float32:
		return len(t.Float32)
	case Int32:
		return len(t.Int32)
	case Int64:
		return len(t.Int64)
	default:
		return 0
	}
}

// Floats returns the data as float32; integer tensors are widened
func (t Tensor) Floats() []float32 {
	switch t.Type {
	case Float32:
		return t.Float32
	case Int32:
		out := make([]float32, len(t.Int32))
		for i, v := range t.Int32 {
			out[i] = float32(v)
		}
		return out
	case Int64:
		out := make([]float32, len(t.Int64))
		for i, v := range t.Int64 {
			out[i] = float32(v)
		}
		return out
	default:
		return nil
	}
}

// Ints returns integer data widened to int64. Float tensors report false.
func (t Tensor) Ints() ([]int64, bool) {
	switch t.Type {
	case Int64:
		return t.Int64, true
	case Int32:
		out := make([]int64, len(t.Int32))
		for i, v := range t.Int32 {
			out[i] = int64(v)
		}
		return out, true
	default:
		return nil, false
	}
}

// Model is an opaque acoustic model: one tensor in, one tensor out
type Model interface {
	Info() Info
	Run(ctx context.Context, input Tensor) (Tensor, error)
	Close() error
}
