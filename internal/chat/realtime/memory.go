package realtime

import (
	"context"
	"fmt"
	"log"
	"sync"
)

const memoryMailboxSize = 64

// MemoryBus is an in-process Publisher and Bus. It backs single-node
// deployments and tests; each subscriber gets a bounded mailbox drained by
// its own goroutine so a slow handler never blocks publishers.
type MemoryBus struct {
	mu     sync.Mutex
	closed bool
	nextID int
	subs   map[string]map[int]*memorySub
}

type memorySub struct {
	handler Handler
	mailbox chan ChangeEvent
	done    chan struct{}
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]*memorySub)}
}

// Publish implements Publisher.
func (b *MemoryBus) Publish(ctx context.Context, channelKey string, event ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	for _, sub := range b.subs[channelKey] {
		select {
		case sub.mailbox <- event:
		default:
			log.Printf("realtime: dropping event on %q, subscriber mailbox full", channelKey)
		}
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(ctx context.Context, channelKey string, handler Handler) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	b.nextID++
	subID := b.nextID
	sub := &memorySub{
		handler: handler,
		mailbox: make(chan ChangeEvent, memoryMailboxSize),
		done:    make(chan struct{}),
	}
	if b.subs[channelKey] == nil {
		b.subs[channelKey] = make(map[int]*memorySub)
	}
	b.subs[channelKey][subID] = sub

	go sub.drain()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(channelKey, subID)
	}
	return cancel, nil
}

func (s *memorySub) drain() {
	for {
		select {
		case event := <-s.mailbox:
			s.handler(event)
		case <-s.done:
			return
		}
	}
}

func (b *MemoryBus) removeLocked(channelKey string, subID int) {
	channel := b.subs[channelKey]
	sub, ok := channel[subID]
	if !ok {
		return
	}
	delete(channel, subID)
	if len(channel) == 0 {
		delete(b.subs, channelKey)
	}
	close(sub.done)
}

// Connected implements Bus. An in-process bus is always connected while open.
func (b *MemoryBus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Reconnect implements Bus. There is no transport to re-establish.
func (b *MemoryBus) Reconnect(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Bus. All subscriptions are cancelled.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channelKey, channel := range b.subs {
		for subID := range channel {
			b.removeLocked(channelKey, subID)
		}
	}
	return nil
}
