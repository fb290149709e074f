package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Zmmoly/Rat50/internal/stream"
)

func waitForSubscribers(t *testing.T, hub *EventHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetStats().Subscribers != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d subscribers, got %d", n, hub.GetStats().Subscribers)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestEventHubBroadcast(t *testing.T) {
	hub := NewEventHub(newLogger())
	ts := httptest.NewServer(hub)
	defer ts.Close()
	defer hub.Close()

	first := dialHub(t, ts.URL)
	defer first.Close()
	second := dialHub(t, ts.URL)
	defer second.Close()
	waitForSubscribers(t, hub, 2)

	event := stream.Event{Type: stream.EventText, Seq: 7, Text: "ab", IsFinal: true, Reason: stream.ReasonStop}
	if err := hub.Handle(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	for i, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("subscriber %d read: %v", i, err)
		}
		var got stream.Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("subscriber %d decode: %v", i, err)
		}
		if got.Seq != 7 || got.Text != "ab" || !got.IsFinal {
			t.Errorf("subscriber %d: unexpected event %+v", i, got)
		}
	}

	if stats := hub.GetStats(); stats.Broadcasts != 1 {
		t.Errorf("Expected 1 broadcast, got %d", stats.Broadcasts)
	}
}

func TestEventHubRemovesClosedSubscriber(t *testing.T) {
	hub := NewEventHub(newLogger())
	ts := httptest.NewServer(hub)
	defer ts.Close()
	defer hub.Close()

	conn := dialHub(t, ts.URL)
	waitForSubscribers(t, hub, 1)

	conn.Close()
	waitForSubscribers(t, hub, 0)

	if err := hub.Handle(context.Background(), stream.Event{Type: stream.EventVolume, Volume: 0.2}); err != nil {
		t.Errorf("Expected broadcast with no subscribers to succeed, got %v", err)
	}
	if stats := hub.GetStats(); stats.Disconnected != 1 {
		t.Errorf("Expected 1 disconnect, got %d", stats.Disconnected)
	}
}

func TestEventHubClose(t *testing.T) {
	hub := NewEventHub(newLogger())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn := dialHub(t, ts.URL)
	defer conn.Close()
	waitForSubscribers(t, hub, 1)

	hub.Close()
	waitForSubscribers(t, hub, 0)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal closure, got %v", err)
	}
}
