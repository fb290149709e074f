package model

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Func adapts a plain function into a Model
type Func struct {
	Signature Info
	RunFunc   func(ctx context.Context, input Tensor) (Tensor, error)

	closed atomic.Bool
}

// Info returns the declared signature
func (f *Func) Info() Info {
	return f.Signature
}

// Run invokes RunFunc
func (f *Func) Run(ctx context.Context, input Tensor) (Tensor, error) {
	if f.closed.Load() {
		return Tensor{}, fmt.Errorf("model %s is closed", f.Signature.Name)
	}
	return f.RunFunc(ctx, input)
}

// Close marks the model closed
func (f *Func) Close() error {
	f.closed.Store(true)
	return nil
}

// Closed reports whether Close was called
func (f *Func) Closed() bool {
	return f.closed.Load()
}
