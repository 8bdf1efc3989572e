package tests

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/notify"
)

func TestNotifier(t *testing.T, addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	publisher := notify.New(goredis.NewClient(&goredis.Options{Addr: addr}), "")
	defer publisher.Close()
	listener := notify.New(goredis.NewClient(&goredis.Options{Addr: addr}), "")
	defer listener.Close()

	require.NoError(t, publisher.Ping(ctx))
	assert.Equal(t, notify.DefaultChannel, publisher.Channel())

	received := make(chan notify.Message, 1)
	listenCtx, stopListening := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- listener.Listen(listenCtx, func(m notify.Message) { received <- m })
	}()

	ev := events.Event{
		ID:        42,
		Timestamp: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		Kind:      events.KindHeartbeat,
		Agent:     events.AgentID{Name: "vpn-1", Location: "toronto"},
	}

	// The subscription may not be confirmed yet; publish until it is heard.
	var got notify.Message
	require.Eventually(t, func() bool {
		if err := publisher.Publish(ctx, ev); err != nil {
			return false
		}
		select {
		case got = <-received:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, events.KindHeartbeat, got.Kind)
	assert.Equal(t, ev.Agent.String(), got.Agent)

	stopListening()
	assert.NoError(t, <-done)
}
