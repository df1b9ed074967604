package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "peerline:"

const redisPingTimeout = 2 * time.Second

// RedisBus is a Publisher and Bus backed by Redis pub/sub, for deployments
// with more than one server node. Events are JSON-encoded on channels under
// a fixed prefix.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus creates a bus on the given Redis address.
func NewRedisBus(addr string) *RedisBus {
	return &RedisBus{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func redisChannel(channelKey string) string {
	return redisChannelPrefix + channelKey
}

// Publish implements Publisher.
func (b *RedisBus) Publish(ctx context.Context, channelKey string, event ChangeEvent) error {
	if b == nil || b.client == nil {
		return fmt.Errorf("redis bus is not configured")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if err := b.client.Publish(ctx, redisChannel(channelKey), payload).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Subscribe implements Bus. Delivery runs on a goroutine fed by the Redis
// subscription; malformed payloads are logged and skipped.
func (b *RedisBus) Subscribe(ctx context.Context, channelKey string, handler Handler) (func(), error) {
	if b == nil || b.client == nil {
		return nil, fmt.Errorf("redis bus is not configured")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	pubsub := b.client.Subscribe(ctx, redisChannel(channelKey))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe channel %q: %w", channelKey, err)
	}

	go func() {
		for message := range pubsub.Channel() {
			var event ChangeEvent
			if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
				log.Printf("realtime: skipping malformed event on %q: %v", channelKey, err)
				continue
			}
			handler(event)
		}
	}()

	cancel := func() {
		if err := pubsub.Close(); err != nil {
			log.Printf("realtime: close subscription on %q: %v", channelKey, err)
		}
	}
	return cancel, nil
}

// Connected implements Bus via a short ping.
func (b *RedisBus) Connected() bool {
	if b == nil || b.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	return b.client.Ping(ctx).Err() == nil
}

// Reconnect implements Bus. The client reconnects on its own; a ping forces
// the attempt and surfaces failure.
func (b *RedisBus) Reconnect(ctx context.Context) error {
	if b == nil || b.client == nil {
		return fmt.Errorf("redis bus is not configured")
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close implements Bus.
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
