package wsbus

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/peerline/peerline/internal/chat/realtime"
)

func startTestServer(t *testing.T) (*realtime.MemoryBus, *Client) {
	t.Helper()

	bus := realtime.NewMemoryBus()
	server := httptest.NewServer(Handler(bus))
	t.Cleanup(server.Close)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	client, err := Dial(wsURL, server.URL, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return bus, client
}

func testEvent(sessionID string) realtime.ChangeEvent {
	return realtime.ChangeEvent{
		Table: "chat_messages",
		Event: realtime.EventInsert,
		New:   json.RawMessage(`{"session_id":"` + sessionID + `"}`),
	}
}

func TestClientSubscribeReceivesEvents(t *testing.T) {
	bus, client := startTestServer(t)
	ctx := context.Background()

	received := make(chan realtime.ChangeEvent, 4)
	cancel, err := client.Subscribe(ctx, "session:s1", func(event realtime.ChangeEvent) {
		received <- event
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := bus.Publish(ctx, "session:s1", testEvent("s1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case event := <-received:
		if event.Table != "chat_messages" || event.Event != realtime.EventInsert {
			t.Fatalf("unexpected event: %+v", event)
		}
		var row map[string]string
		if err := json.Unmarshal(event.New, &row); err != nil {
			t.Fatalf("decode event row: %v", err)
		}
		if row["session_id"] != "s1" {
			t.Fatalf("unexpected row: %+v", row)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestClientUnsubscribeStopsDelivery(t *testing.T) {
	bus, client := startTestServer(t)
	ctx := context.Background()

	received := make(chan realtime.ChangeEvent, 4)
	cancel, err := client.Subscribe(ctx, "session:s1", func(event realtime.ChangeEvent) {
		received <- event
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	if err := bus.Publish(ctx, "session:s1", testEvent("s1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-received:
		t.Fatal("event delivered after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClientPing(t *testing.T) {
	_, client := startTestServer(t)

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !client.Connected() {
		t.Fatal("client should report connected")
	}
}

func TestClientReconnect(t *testing.T) {
	bus, client := startTestServer(t)
	ctx := context.Background()

	if _, err := client.Subscribe(ctx, "session:s1", func(realtime.ChangeEvent) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := client.Reconnect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !client.Connected() {
		t.Fatal("client should be connected after reconnect")
	}

	// Old subscriptions are gone; a fresh one works on the new connection.
	received := make(chan realtime.ChangeEvent, 1)
	cancel, err := client.Subscribe(ctx, "session:s1", func(event realtime.ChangeEvent) {
		received <- event
	})
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	defer cancel()

	if err := bus.Publish(ctx, "session:s1", testEvent("s1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event after reconnect")
	}
}

func TestClientClosedSubscribeFails(t *testing.T) {
	_, client := startTestServer(t)
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if client.Connected() {
		t.Fatal("closed client should not report connected")
	}
	if _, err := client.Subscribe(context.Background(), "session:s1", func(realtime.ChangeEvent) {}); err == nil {
		t.Fatal("subscribe on a closed client should fail")
	}
}
