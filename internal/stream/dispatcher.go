package stream

import (
	"context"
	"log/slog"
	"sync"
)

// Sink consumes session events. Handle is called from the dispatcher
// goroutine, one event at a time, in session order.
type Sink interface {
	Handle(ctx context.Context, e Event) error
}

// SinkFunc adapts a function into a Sink
type SinkFunc func(ctx context.Context, e Event) error

// Handle calls f
func (f SinkFunc) Handle(ctx context.Context, e Event) error {
	return f(ctx, e)
}

type namedSink struct {
	name string
	sink Sink
}

// Dispatcher fans session events out to sinks
type Dispatcher struct {
	logger *slog.Logger

	mu        sync.RWMutex
	sinks     []namedSink
	delivered uint64
	failures  map[string]uint64
}

// DispatcherStats represents dispatcher statistics
type DispatcherStats struct {
	Sinks     []string          `json:"sinks"`
	Delivered uint64            `json:"delivered"`
	Failures  map[string]uint64 `json:"failures"`
}

// NewDispatcher creates a dispatcher with no sinks
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		failures: make(map[string]uint64),
	}
}

// Add registers a sink; sinks receive events in registration order
func (d *Dispatcher) Add(name string, sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, namedSink{name: name, sink: sink})
}

// Run delivers events until the channel is closed or ctx is done. A failing
// sink is logged and skipped for that event only.
func (d *Dispatcher) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			d.dispatch(ctx, e)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, e Event) {
	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()

	for _, s := range sinks {
		if err := s.sink.Handle(ctx, e); err != nil {
			d.logger.Warn("Event sink failed",
				slog.String("sink", s.name),
				slog.String("event", string(e.Type)),
				slog.String("error", err.Error()),
			)
			d.mu.Lock()
			d.failures[s.name]++
			d.mu.Unlock()
		}
	}

	d.mu.Lock()
	d.delivered++
	d.mu.Unlock()
}

// GetStats returns dispatcher statistics
func (d *Dispatcher) GetStats() DispatcherStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := DispatcherStats{
		Delivered: d.delivered,
		Failures:  make(map[string]uint64, len(d.failures)),
	}
	for _, s := range d.sinks {
		stats.Sinks = append(stats.Sinks, s.name)
	}
	for name, n := range d.failures {
		stats.Failures[name] = n
	}
	return stats
}

// LogSink writes recognized text and errors to logger
func LogSink(logger *slog.Logger) Sink {
	return SinkFunc(func(_ context.Context, e Event) error {
		switch e.Type {
		case EventText:
			if e.IsFinal {
				logger.Info("Final text",
					slog.String("utterance_id", e.UtteranceID),
					slog.String("reason", e.Reason),
					slog.String("text", e.Text),
				)
			} else {
				logger.Debug("Partial text", slog.String("text", e.Text))
			}
		case EventError:
			logger.Warn("Session error event",
				slog.String("kind", string(e.ErrorKind)),
				slog.String("message", e.Message),
			)
		case EventModelLoaded:
			if e.Model != nil {
				logger.Info("Model ready", slog.String("name", e.Model.Name))
			}
		}
		return nil
	})
}
