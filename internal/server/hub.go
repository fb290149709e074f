package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Zmmoly/Rat50/internal/stream"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 10 * time.Second
)

// EventHub fans session events out to websocket subscribers. A subscriber
// that cannot keep up is disconnected.
type EventHub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	subscribers map[*subscriber]struct{}
	closed      bool

	broadcasts   uint64
	disconnected uint64

	mu sync.RWMutex
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// HubStats represents event hub statistics
type HubStats struct {
	Subscribers  int    `json:"subscribers"`
	Broadcasts   uint64 `json:"broadcasts"`
	Disconnected uint64 `json:"disconnected"`
}

var _ stream.Sink = (*EventHub)(nil)

// NewEventHub creates a new event hub
func NewEventHub(logger *slog.Logger) *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:      logger,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Handle implements stream.Sink by broadcasting e as JSON
func (h *EventHub) Handle(ctx context.Context, e stream.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	var slow []*subscriber
	h.mu.RLock()
	for sub := range h.subscribers {
		select {
		case sub.send <- data:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.Warn("Dropping slow event subscriber",
			slog.String("remote_addr", sub.conn.RemoteAddr().String()),
		)
		h.remove(sub)
	}

	h.mu.Lock()
	h.broadcasts++
	h.mu.Unlock()
	return nil
}

// ServeHTTP upgrades the request and subscribes the connection
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("Event subscriber connected", slog.String("remote_addr", conn.RemoteAddr().String()))

	go h.writeLoop(sub)
	go h.readLoop(sub)
}

// writeLoop delivers queued events until the send channel is closed
func (h *EventHub) writeLoop(sub *subscriber) {
	defer sub.conn.Close()

	for data := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("Event write failed", slog.String("error", err.Error()))
			h.remove(sub)
			for range sub.send {
			}
			return
		}
	}

	sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	sub.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop discards client messages and notices disconnects
func (h *EventHub) readLoop(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			h.remove(sub)
			return
		}
	}
}

func (h *EventHub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.send)
	h.disconnected++
}

// Close disconnects every subscriber and rejects new ones
func (h *EventHub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.remove(sub)
	}
}

// GetStats returns hub statistics
func (h *EventHub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return HubStats{
		Subscribers:  len(h.subscribers),
		Broadcasts:   h.broadcasts,
		Disconnected: h.disconnected,
	}
}
