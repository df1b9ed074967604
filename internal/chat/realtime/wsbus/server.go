// Package wsbus exposes a realtime change-event bus over a websocket, with a
// frame protocol for subscribing to channels and a client that implements
// the bus interface on top of it. Browsers and remote sync engines use it to
// receive the server's committed row changes.
package wsbus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/peerline/peerline/internal/chat/realtime"
	"github.com/peerline/peerline/internal/platform/id"
	"golang.org/x/net/websocket"
)

const (
	maxFramePayloadBytes    = 32 * 1024
	maxDecodeErrorsPerConn  = 3
	maxSubscriptionsPerConn = 64
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	ChannelKey string `json:"channel_key"`
	Table      string `json:"table,omitempty"`
	Event      string `json:"event,omitempty"`
	Filter     string `json:"filter,omitempty"`
}

type subscribedPayload struct {
	SubscriptionID string `json:"subscription_id"`
}

type unsubscribePayload struct {
	SubscriptionID string `json:"subscription_id"`
}

type eventPayload struct {
	SubscriptionID string             `json:"subscription_id"`
	Table          string             `json:"table"`
	Event          realtime.EventType `json:"event"`
	New            json.RawMessage    `json:"new"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func writeWSError(peer *wsPeer, requestID, code, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "sync.error",
		RequestID: requestID,
		Payload:   mustJSON(wsErrorEnvelope{Error: wsError{Code: code, Message: message}}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("wsbus: failed to marshal frame payload: %v", err)
		return nil
	}
	return b
}

// Handler returns a websocket handler bridging frames to the given bus.
// Authentication happens before the handshake, on the wrapping HTTP route.
func Handler(bus realtime.Bus) http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		handleConn(conn, bus)
	})
}

type connSub struct {
	cancel func()
}

func handleConn(conn *websocket.Conn, bus realtime.Bus) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn))

	var mu sync.Mutex
	subs := make(map[string]connSub)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, sub := range subs {
			sub.cancel()
		}
	}()

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}

	decodeErrors := 0
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		switch frame.Type {
		case "sync.subscribe":
			handleSubscribeFrame(ctx, bus, peer, frame, &mu, subs)
		case "sync.unsubscribe":
			handleUnsubscribeFrame(peer, frame, &mu, subs)
		case "sync.ping":
			_ = peer.writeFrame(wsFrame{Type: "sync.pong", RequestID: frame.RequestID})
		default:
			_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

func handleSubscribeFrame(ctx context.Context, bus realtime.Bus, peer *wsPeer, frame wsFrame, mu *sync.Mutex, subs map[string]connSub) {
	var payload subscribePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "invalid subscribe payload")
		return
	}

	channelKey := strings.TrimSpace(payload.ChannelKey)
	if channelKey == "" {
		_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "channel_key is required")
		return
	}

	mu.Lock()
	full := len(subs) >= maxSubscriptionsPerConn
	mu.Unlock()
	if full {
		_ = writeWSError(peer, frame.RequestID, "RESOURCE_EXHAUSTED", "subscription limit reached")
		return
	}

	subID := id.New()
	spec := realtime.EventSpec{
		Table:  strings.TrimSpace(payload.Table),
		Event:  realtime.EventType(strings.TrimSpace(payload.Event)),
		Filter: strings.TrimSpace(payload.Filter),
	}
	cancel, err := bus.Subscribe(ctx, channelKey, func(event realtime.ChangeEvent) {
		if !spec.Matches(event) {
			return
		}
		_ = peer.writeFrame(wsFrame{
			Type: "sync.event",
			Payload: mustJSON(eventPayload{
				SubscriptionID: subID,
				Table:          event.Table,
				Event:          event.Event,
				New:            event.New,
			}),
		})
	})
	if err != nil {
		log.Printf("wsbus: subscribe %q failed: %v", channelKey, err)
		_ = writeWSError(peer, frame.RequestID, "UNAVAILABLE", "subscription unavailable")
		return
	}

	mu.Lock()
	subs[subID] = connSub{cancel: cancel}
	mu.Unlock()

	_ = peer.writeFrame(wsFrame{
		Type:      "sync.subscribed",
		RequestID: frame.RequestID,
		Payload:   mustJSON(subscribedPayload{SubscriptionID: subID}),
	})
}

func handleUnsubscribeFrame(peer *wsPeer, frame wsFrame, mu *sync.Mutex, subs map[string]connSub) {
	var payload unsubscribePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "invalid unsubscribe payload")
		return
	}

	mu.Lock()
	sub, ok := subs[payload.SubscriptionID]
	if ok {
		delete(subs, payload.SubscriptionID)
	}
	mu.Unlock()
	if ok {
		sub.cancel()
	}

	_ = peer.writeFrame(wsFrame{Type: "sync.unsubscribed", RequestID: frame.RequestID})
}
