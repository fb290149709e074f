package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Diagnostics is a structured report on a model path, produced without
// requiring the load to succeed
type Diagnostics struct {
	Path      string   `json:"path"`
	Remote    bool     `json:"remote"`
	Exists    bool     `json:"exists"`
	SizeBytes int64    `json:"size_bytes,omitempty"`
	Extension string   `json:"extension"`
	Supported bool     `json:"supported"`
	Loaded    bool     `json:"loaded"`
	Error     string   `json:"error,omitempty"`
	Info      *Info    `json:"info,omitempty"`
	Profile   *Profile `json:"profile,omitempty"`
	Summary   string   `json:"summary,omitempty"`
}

// Diagnose inspects path and, when possible, loads the model to report its
// signature and detected profile
func (l *Loader) Diagnose(ctx context.Context, path string, o Overrides) Diagnostics {
	d := Diagnostics{
		Path:      path,
		Remote:    strings.Contains(path, "://"),
		Extension: strings.ToLower(filepath.Ext(path)),
		Supported: l.Supports(path),
	}

	if !d.Remote {
		st, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			d.Error = "file does not exist"
			return d
		case err != nil:
			d.Error = err.Error()
			return d
		}
		d.Exists = true
		d.SizeBytes = st.Size()
	}

	if !d.Supported {
		d.Error = "unsupported model format"
		return d
	}

	m, err := l.Load(ctx, path)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	defer m.Close()

	d.Exists = true
	d.Loaded = true
	info := m.Info()
	d.Info = &info

	p, err := DetectProfile(info, o)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	d.Profile = &p
	d.Summary = p.String()
	return d
}
