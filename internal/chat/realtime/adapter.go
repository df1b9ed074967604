package realtime

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/peerline/peerline/internal/platform/id"
)

// ConnectionStatus is a snapshot of the adapter's transport health.
type ConnectionStatus struct {
	Connected     bool
	Subscriptions int
}

// Adapter owns the registry of change-event subscriptions on top of a Bus.
// Subscription ids remain stable across reconnects: ReconnectAll tears down
// and re-establishes every bus subscription without invalidating the ids
// held by callers.
type Adapter struct {
	bus Bus

	mu   sync.Mutex
	subs map[string]*adapterSub
}

type adapterSub struct {
	channelKey string
	spec       EventSpec
	handler    Handler
	cancel     func()
}

// NewAdapter creates an adapter over the given bus.
func NewAdapter(bus Bus) *Adapter {
	return &Adapter{bus: bus, subs: make(map[string]*adapterSub)}
}

// Subscribe registers a handler for events on a channel that pass the spec.
// The returned id is valid even when the underlying bus subscription could
// not be established; the failure is logged and ReconnectAll retries it.
func (a *Adapter) Subscribe(ctx context.Context, channelKey string, spec EventSpec, handler Handler) (string, error) {
	if a == nil || a.bus == nil {
		return "", fmt.Errorf("adapter is not configured")
	}
	if handler == nil {
		return "", fmt.Errorf("handler is required")
	}

	subID := id.New()
	sub := &adapterSub{channelKey: channelKey, spec: spec, handler: handler}

	cancel, err := a.bus.Subscribe(ctx, channelKey, sub.deliver)
	if err != nil {
		log.Printf("realtime: subscribe %q failed, will retry on reconnect: %v", channelKey, err)
	} else {
		sub.cancel = cancel
	}

	a.mu.Lock()
	a.subs[subID] = sub
	a.mu.Unlock()
	return subID, nil
}

func (s *adapterSub) deliver(event ChangeEvent) {
	if s.spec.Matches(event) {
		s.handler(event)
	}
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (a *Adapter) Unsubscribe(subID string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	sub, ok := a.subs[subID]
	if ok {
		delete(a.subs, subID)
	}
	a.mu.Unlock()
	if ok && sub.cancel != nil {
		sub.cancel()
	}
}

// Status reports transport health and the number of live subscriptions.
func (a *Adapter) Status() ConnectionStatus {
	if a == nil || a.bus == nil {
		return ConnectionStatus{}
	}
	a.mu.Lock()
	count := len(a.subs)
	a.mu.Unlock()
	return ConnectionStatus{Connected: a.bus.Connected(), Subscriptions: count}
}

// Connected reports whether the underlying bus is usable.
func (a *Adapter) Connected() bool {
	if a == nil || a.bus == nil {
		return false
	}
	return a.bus.Connected()
}

// ReconnectAll tears down every bus subscription, re-establishes the
// transport, and resubscribes. Caller-held subscription ids stay valid.
// Safe to call regardless of current transport state.
func (a *Adapter) ReconnectAll(ctx context.Context) error {
	if a == nil || a.bus == nil {
		return fmt.Errorf("adapter is not configured")
	}

	a.mu.Lock()
	subs := make(map[string]*adapterSub, len(a.subs))
	for subID, sub := range a.subs {
		subs[subID] = sub
	}
	a.mu.Unlock()

	for _, sub := range subs {
		if sub.cancel != nil {
			sub.cancel()
			sub.cancel = nil
		}
	}

	if err := a.bus.Reconnect(ctx); err != nil {
		return fmt.Errorf("reconnect bus: %w", err)
	}

	var firstErr error
	for subID, sub := range subs {
		cancel, err := a.bus.Subscribe(ctx, sub.channelKey, sub.deliver)
		if err != nil {
			log.Printf("realtime: resubscribe %q (%s) failed: %v", sub.channelKey, subID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sub.cancel = cancel
	}
	return firstErr
}

// Close cancels every subscription and closes the bus.
func (a *Adapter) Close() error {
	if a == nil || a.bus == nil {
		return nil
	}
	a.mu.Lock()
	subs := a.subs
	a.subs = make(map[string]*adapterSub)
	a.mu.Unlock()
	for _, sub := range subs {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	return a.bus.Close()
}
