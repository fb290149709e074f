package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OpenFunc constructs a model from a path or URL
type OpenFunc func(ctx context.Context, path string) (Model, error)

// Loader dispatches model paths to registered backends by URL scheme or
// file extension
type Loader struct {
	extensions map[string]OpenFunc
	schemes    map[string]OpenFunc
}

// NewLoader creates an empty loader
func NewLoader() *Loader {
	return &Loader{
		extensions: make(map[string]OpenFunc),
		schemes:    make(map[string]OpenFunc),
	}
}

// RegisterExtension binds a file extension such as ".onnx" to a backend
func (l *Loader) RegisterExtension(ext string, fn OpenFunc) {
	l.extensions[strings.ToLower(ext)] = fn
}

// RegisterScheme binds a URL scheme such as "http" to a backend
func (l *Loader) RegisterScheme(scheme string, fn OpenFunc) {
	l.schemes[strings.ToLower(scheme)] = fn
}

// Supports reports whether path would be routed to a backend
func (l *Loader) Supports(path string) bool {
	_, err := l.resolve(path)
	return err == nil
}

func (l *Loader) resolve(path string) (OpenFunc, error) {
	if scheme, _, ok := strings.Cut(path, "://"); ok {
		if fn, ok := l.schemes[strings.ToLower(scheme)]; ok {
			return fn, nil
		}
		return nil, fmt.Errorf("%w: unsupported model scheme %q", ErrModelLoad, scheme)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if fn, ok := l.extensions[ext]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("%w: unsupported model format %q", ErrModelLoad, ext)
}

// Load validates path and opens it with the matching backend
func (l *Loader) Load(ctx context.Context, path string) (Model, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no model path configured", ErrModelLoad)
	}

	fn, err := l.resolve(path)
	if err != nil {
		return nil, err
	}

	if !strings.Contains(path, "://") {
		st, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
		}
		if st.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", ErrModelLoad, path)
		}
	}

	m, err := fn(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, path, err)
	}
	return m, nil
}
