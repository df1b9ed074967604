package realtime

import "context"

// Handler receives change events delivered on a subscription. Handlers run
// on the bus's delivery goroutine and must not block.
type Handler func(ChangeEvent)

// Publisher is the write side of a change-event bus. Backend operations
// publish every committed row change through it.
type Publisher interface {
	Publish(ctx context.Context, channelKey string, event ChangeEvent) error
}

// Bus is the read side of a change-event bus. Events published on a channel
// are delivered to every subscriber of that channel, in publish order per
// subscriber.
type Bus interface {
	// Subscribe registers a handler for a channel and returns a cancel
	// function that removes it.
	Subscribe(ctx context.Context, channelKey string, handler Handler) (cancel func(), err error)
	// Connected reports whether the bus currently believes its transport is
	// usable.
	Connected() bool
	// Reconnect re-establishes the transport. Implementations with no
	// persistent connection may treat it as a no-op.
	Reconnect(ctx context.Context) error
	Close() error
}
