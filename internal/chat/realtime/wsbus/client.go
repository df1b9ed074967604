package wsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/peerline/peerline/internal/chat/realtime"
	"github.com/peerline/peerline/internal/platform/id"
	"github.com/peerline/peerline/internal/platform/timeouts"
	"golang.org/x/net/websocket"
)

// Client implements realtime.Bus over the wsbus frame protocol. Reconnect
// drops every server-side subscription; callers resubscribe through their
// adapter afterwards.
type Client struct {
	url    string
	origin string
	token  string

	mu        sync.Mutex
	conn      *websocket.Conn
	peer      *wsPeer
	connected bool
	pending   map[string]chan wsFrame
	handlers  map[string]realtime.Handler
}

// Dial connects to a wsbus endpoint. The token, when set, is sent as a
// bearer Authorization header on the handshake.
func Dial(url, origin, token string) (*Client, error) {
	client := &Client{
		url:      url,
		origin:   origin,
		token:    strings.TrimSpace(token),
		pending:  make(map[string]chan wsFrame),
		handlers: make(map[string]realtime.Handler),
	}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) connect() error {
	config, err := websocket.NewConfig(c.url, c.origin)
	if err != nil {
		return fmt.Errorf("configure websocket: %w", err)
	}
	if c.token != "" {
		config.Header.Set("Authorization", "Bearer "+c.token)
	}

	conn, err := websocket.DialConfig(config)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.peer = newWSPeer(json.NewEncoder(conn))
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	decoder := json.NewDecoder(conn)
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			c.markDisconnected(conn)
			return
		}

		switch frame.Type {
		case "sync.event":
			c.dispatchEvent(frame)
		default:
			if frame.RequestID != "" {
				c.resolvePending(frame)
			}
		}
	}
}

func (c *Client) dispatchEvent(frame wsFrame) {
	var payload eventPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		log.Printf("wsbus: skipping malformed event frame: %v", err)
		return
	}

	c.mu.Lock()
	handler := c.handlers[payload.SubscriptionID]
	c.mu.Unlock()
	if handler == nil {
		return
	}
	handler(realtime.ChangeEvent{
		Table: payload.Table,
		Event: payload.Event,
		New:   payload.New,
	})
}

func (c *Client) resolvePending(frame wsFrame) {
	c.mu.Lock()
	reply, ok := c.pending[frame.RequestID]
	if ok {
		delete(c.pending, frame.RequestID)
	}
	c.mu.Unlock()
	if ok {
		reply <- frame
	}
}

func (c *Client) markDisconnected(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.connected = false
	}
	pending := c.pending
	c.pending = make(map[string]chan wsFrame)
	c.mu.Unlock()
	for _, reply := range pending {
		close(reply)
	}
}

// roundTrip sends a frame and waits for its correlated reply.
func (c *Client) roundTrip(ctx context.Context, frame wsFrame) (wsFrame, error) {
	c.mu.Lock()
	peer := c.peer
	if peer == nil || !c.connected {
		c.mu.Unlock()
		return wsFrame{}, fmt.Errorf("websocket is not connected")
	}
	frame.RequestID = id.New()
	reply := make(chan wsFrame, 1)
	c.pending[frame.RequestID] = reply
	c.mu.Unlock()

	if err := peer.writeFrame(frame); err != nil {
		c.mu.Lock()
		delete(c.pending, frame.RequestID)
		c.mu.Unlock()
		return wsFrame{}, fmt.Errorf("write %s frame: %w", frame.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.WSHandshake)
	defer cancel()
	select {
	case response, ok := <-reply:
		if !ok {
			return wsFrame{}, fmt.Errorf("connection lost awaiting %s reply", frame.Type)
		}
		return response, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, frame.RequestID)
		c.mu.Unlock()
		return wsFrame{}, fmt.Errorf("await %s reply: %w", frame.Type, ctx.Err())
	}
}

func decodeWSError(frame wsFrame) error {
	var envelope wsErrorEnvelope
	if err := json.Unmarshal(frame.Payload, &envelope); err != nil {
		return fmt.Errorf("server error")
	}
	return fmt.Errorf("server error %s: %s", envelope.Error.Code, envelope.Error.Message)
}

// Subscribe implements realtime.Bus. The channel-wide subscription carries
// no table or filter narrowing; adapters filter client-side.
func (c *Client) Subscribe(ctx context.Context, channelKey string, handler realtime.Handler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	reply, err := c.roundTrip(ctx, wsFrame{
		Type:    "sync.subscribe",
		Payload: mustJSON(subscribePayload{ChannelKey: channelKey}),
	})
	if err != nil {
		return nil, err
	}
	if reply.Type == "sync.error" {
		return nil, decodeWSError(reply)
	}

	var payload subscribedPayload
	if err := json.Unmarshal(reply.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode subscribe ack: %w", err)
	}
	if payload.SubscriptionID == "" {
		return nil, fmt.Errorf("subscribe ack carried no subscription id")
	}

	c.mu.Lock()
	c.handlers[payload.SubscriptionID] = handler
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		delete(c.handlers, payload.SubscriptionID)
		c.mu.Unlock()

		ctx, cancelTimeout := context.WithTimeout(context.Background(), timeouts.WSHandshake)
		defer cancelTimeout()
		if _, err := c.roundTrip(ctx, wsFrame{
			Type:    "sync.unsubscribe",
			Payload: mustJSON(unsubscribePayload{SubscriptionID: payload.SubscriptionID}),
		}); err != nil {
			log.Printf("wsbus: unsubscribe %s: %v", payload.SubscriptionID, err)
		}
	}
	return cancel, nil
}

// Ping round-trips a ping frame. It doubles as the monitor probe.
func (c *Client) Ping(ctx context.Context) error {
	reply, err := c.roundTrip(ctx, wsFrame{Type: "sync.ping"})
	if err != nil {
		return err
	}
	if reply.Type != "sync.pong" {
		return fmt.Errorf("unexpected ping reply %q", reply.Type)
	}
	return nil
}

// Connected implements realtime.Bus.
func (c *Client) Connected() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Reconnect implements realtime.Bus by dialing a fresh connection. Handlers
// registered on the old connection are discarded; the adapter resubscribes.
func (c *Client) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	old := c.conn
	c.conn = nil
	c.connected = false
	c.handlers = make(map[string]realtime.Handler)
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	return c.connect()
}

// Close implements realtime.Bus.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
