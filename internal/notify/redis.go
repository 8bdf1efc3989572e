// Package notify carries "events were appended" signals between server
// instances over Redis pub/sub, so every instance's live feed polls promptly
// instead of waiting for its next tick.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EternisAI/fleetwatch/internal/events"
)

const DefaultChannel = "fleetwatch:events"

// Message is the pub/sub payload. It only identifies the event; subscribers
// read the event itself from the store.
type Message struct {
	ID        int64       `json:"id"`
	Kind      events.Kind `json:"kind"`
	Agent     string      `json:"agent"`
	Timestamp time.Time   `json:"timestamp"`
}

type Notifier struct {
	client  *redis.Client
	channel string
}

func New(client *redis.Client, channel string) *Notifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Notifier{
		client:  client,
		channel: channel,
	}
}

func (n *Notifier) Channel() string { return n.channel }

func (n *Notifier) Publish(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(Message{
		ID:        ev.ID,
		Kind:      ev.Kind,
		Agent:     ev.Agent.String(),
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", n.channel, err)
	}
	return nil
}

// Listen subscribes to the channel and calls handle for every well-formed
// message until ctx ends. Malformed payloads are logged and skipped.
func (n *Notifier) Listen(ctx context.Context, handle func(Message)) error {
	pubsub := n.client.Subscribe(ctx, n.channel)
	defer pubsub.Close()

	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", n.channel, err)
	}
	slog.Info("Subscribed to append notifications", "channel", n.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Append notification listener stopping", "channel", n.channel)
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", n.channel)
			}
			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				slog.Warn("Discarding malformed notification", "channel", msg.Channel, "error", err)
				continue
			}
			handle(m)
		}
	}
}

func (n *Notifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *Notifier) Close() error {
	return n.client.Close()
}
