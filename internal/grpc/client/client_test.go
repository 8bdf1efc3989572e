package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/fleetwatch/internal/clock"
	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/feed"
	"github.com/EternisAI/fleetwatch/internal/grpc/server"
	"github.com/EternisAI/fleetwatch/internal/ingest"
	"github.com/EternisAI/fleetwatch/internal/store/memory"
)

func startServer(t *testing.T, apiKey string) (*memory.Store, string) {
	t.Helper()
	st := memory.New()
	dist := feed.New(st, feed.Config{}, clock.Real(), nil)
	srv := server.NewServer(server.Config{IngestAPIKey: apiKey}, ingest.NewService(st, nil, dist, nil), dist)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(lis)
	t.Cleanup(func() { srv.StopWithTimeout(time.Second) })
	return st, lis.Addr().String()
}

func stored(t *testing.T, st *memory.Store) []events.Event {
	t.Helper()
	evs, err := events.Collect(st.TailSince(context.Background(), 0, 0))
	require.NoError(t, err)
	return evs
}

func heartbeat() events.Event {
	return events.Event{
		Timestamp: time.Now().UTC(),
		Kind:      events.KindHeartbeat,
		Agent:     events.AgentID{Name: "vpn-1", Location: "toronto"},
		Heartbeat: &events.HeartbeatPayload{},
	}
}

func TestClient_PublishesQueuedEvents(t *testing.T) {
	st, addr := startServer(t, "key")
	c := NewClient(addr, "key", nil)
	require.NoError(t, c.Start())
	defer c.Stop()

	require.NoError(t, c.Send(heartbeat()))
	require.NoError(t, c.Send(heartbeat()))

	require.Eventually(t, func() bool { return len(stored(t, st)) == 2 }, 5*time.Second, 20*time.Millisecond)
	assert.True(t, c.Reachable())
}

func TestClient_RejectedEventIsDropped(t *testing.T) {
	st, addr := startServer(t, "key")
	c := NewClient(addr, "key", nil)
	require.NoError(t, c.Start())
	defer c.Stop()

	bad := heartbeat()
	bad.Agent.Name = ""
	require.NoError(t, c.Send(bad))
	require.NoError(t, c.Send(heartbeat()))

	require.Eventually(t, func() bool { return len(stored(t, st)) == 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestClient_UnreachableServer(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	c := NewClient(addr, "", nil)
	require.NoError(t, c.Start())
	require.NoError(t, c.Send(heartbeat()))
	time.Sleep(100 * time.Millisecond)
	assert.False(t, c.Reachable())
	require.NoError(t, c.Stop())
}

func TestClient_SendQueueFull(t *testing.T) {
	c := NewClient("127.0.0.1:1", "", nil)
	for range sendChannelBuffer {
		require.NoError(t, c.Send(heartbeat()))
	}
	assert.ErrorIs(t, c.Send(heartbeat()), ErrQueueFull)
}

func TestIncreaseReconnectDelay(t *testing.T) {
	c := NewClient("127.0.0.1:1", "", nil)
	var got []time.Duration
	for range 7 {
		c.increaseReconnectDelay()
		got = append(got, c.reconnectDelay)
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		30 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)
}
