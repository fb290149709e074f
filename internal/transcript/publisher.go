package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Conn is the part of a NATS connection the publisher needs
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends transcripts as JSON to a NATS subject
type Publisher struct {
	conn    Conn
	nc      *nats.Conn
	subject string
	log     *slog.Logger
}

// Connect dials url and returns a publisher for subject
func Connect(ctx context.Context, url, subject string, timeout time.Duration, log *slog.Logger) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("no NATS url configured")
	}
	if subject == "" {
		return nil, errors.New("no NATS subject configured")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	nc, err := nats.Connect(url,
		nats.Name("speech-transcripts"),
		nats.Timeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("Connected to NATS", slog.String("url", url), slog.String("subject", subject))
	p := NewPublisher(nc, subject, log)
	p.nc = nc
	return p, nil
}

// NewPublisher wraps an existing connection
func NewPublisher(conn Conn, subject string, log *slog.Logger) *Publisher {
	return &Publisher{conn: conn, subject: subject, log: log}
}

// Subject returns the subject transcripts are published on
func (p *Publisher) Subject() string {
	return p.subject
}

// Publish encodes t and sends it
func (p *Publisher) Publish(t Transcript) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish transcript: %w", err)
	}
	return nil
}

// Healthy reports whether an owned connection is up
func (p *Publisher) Healthy() bool {
	if p.nc == nil {
		return true
	}
	return p.nc.Status() == nats.CONNECTED
}

// Close drains and closes an owned connection
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	p.log.Info("Closing NATS connection")
	if err := p.nc.Drain(); err != nil {
		p.log.Warn("NATS drain failed", slog.String("error", err.Error()))
	}
	p.nc.Close()
}
