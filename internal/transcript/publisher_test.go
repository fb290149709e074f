package transcript

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func startEmbedded(t *testing.T) *EmbeddedServer {
	t.Helper()
	srv, err := StartEmbedded("127.0.0.1", -1, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestPublisherRoundTrip(t *testing.T) {
	srv := startEmbedded(t)

	sub, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	if _, err := sub.ChanSubscribe("speech.transcripts", msgs); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	pub, err := Connect(context.Background(), srv.ClientURL(), "speech.transcripts", time.Second, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pub.Close()

	if !pub.Healthy() {
		t.Error("Expected connected publisher to be healthy")
	}
	if pub.Subject() != "speech.transcripts" {
		t.Errorf("Expected subject speech.transcripts, got %s", pub.Subject())
	}

	want := Transcript{ID: "utt-9", SessionID: "s1", Text: "مرحبا بك", Reason: "silence", Duration: 2 * time.Second}
	if err := pub.Publish(want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-msgs:
		var got Transcript
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != want.ID || got.Text != want.Text || got.Duration != want.Duration {
			t.Errorf("Expected %+v, got %+v", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for published transcript")
	}
}

func TestNewPublisherWithoutOwnedConnection(t *testing.T) {
	p := NewPublisher(&fakeConn{}, "subject", newLogger())
	if !p.Healthy() {
		t.Error("Expected wrapped connection to report healthy")
	}
	// Close is a no-op for connections the publisher does not own
	p.Close()
}
