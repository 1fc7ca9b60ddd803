package hub

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// envelope wraps an event with its origin instance so a bridge listener
// can suppress its own publications.
type envelope struct {
	Origin string `json:"origin"`
	Event  *Event `json:"event"`
}

// RedisBridge replicates hub events across engine instances over a Redis
// pub/sub channel. Each instance subscribes to the shared channel and
// replays foreign events into its local hub.
type RedisBridge struct {
	client  *redis.Client
	channel string
	hub     *Hub
	cancel  context.CancelFunc
	logger  *log.Logger
}

// NewRedisBridge wires the hub to a Redis channel and starts the listener.
func NewRedisBridge(client *redis.Client, channel string, h *Hub) *RedisBridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisBridge{
		client:  client,
		channel: channel,
		hub:     h,
		cancel:  cancel,
		logger:  log.New(log.Writer(), "[BRIDGE] ", log.LstdFlags),
	}
	h.SetBridge(b)
	go b.listen(ctx)
	return b
}

// Publish sends a local event to peer instances.
func (b *RedisBridge) Publish(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(&envelope{Origin: ev.Origin, Event: ev})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Close stops the listener. The Redis client is owned by the caller.
func (b *RedisBridge) Close() {
	b.cancel()
}

func (b *RedisBridge) listen(ctx context.Context) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Printf("Malformed bridge payload: %v", err)
				continue
			}
			if env.Origin == b.hub.Instance() || env.Event == nil {
				continue
			}
			b.hub.PublishLocal(env.Event)
		}
	}
}
