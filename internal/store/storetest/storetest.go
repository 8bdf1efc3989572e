// Package storetest holds the behavioural checks every events.Store
// implementation must pass. Adapter packages call Run from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	base   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	torVPN = events.AgentID{Name: "vpn-1", Location: "toronto"}
	mtlVPN = events.AgentID{Name: "vpn-2", Location: "montreal"}
)

func ptr[T any](v T) *T { return &v }

// Run exercises store behaviour against a fresh store per subtest.
func Run(t *testing.T, newStore func(t *testing.T) events.Store) {
	t.Run("AppendAssignsIncreasingIDs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.Append(ctx, heartbeat(torVPN, base))
		require.NoError(t, err)
		second, err := s.Append(ctx, heartbeat(torVPN, base.Add(-time.Minute)))
		require.NoError(t, err)

		assert.Greater(t, second, first)

		latest, err := s.LatestID(ctx)
		require.NoError(t, err)
		assert.Equal(t, second, latest)
	})

	t.Run("LatestIDOnEmptyStore", func(t *testing.T) {
		latest, err := newStore(t).LatestID(context.Background())
		require.NoError(t, err)
		assert.Zero(t, latest)
	})

	t.Run("QueryRangeOrdersByTimestampThenArrival", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		late := mustAppend(t, s, connect(torVPN, base.Add(2*time.Minute), "alice"))
		tieA := mustAppend(t, s, connect(torVPN, base.Add(time.Minute), "bob"))
		tieB := mustAppend(t, s, connect(mtlVPN, base.Add(time.Minute), "carol"))
		mustAppend(t, s, connect(torVPN, base.Add(time.Hour), "outside"))

		got, err := events.Collect(s.QueryRange(ctx, events.Filter{}, events.Window{From: base, To: base.Add(time.Hour)}))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []int64{tieA, tieB, late}, ids(got))
		assert.Equal(t, "bob", got[0].Username())
	})

	t.Run("QueryRangeFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		mustAppend(t, s, connect(torVPN, base, "alice"))
		mustAppend(t, s, heartbeat(torVPN, base))
		mustAppend(t, s, connect(mtlVPN, base, "bob"))

		window := events.Window{From: base, To: base.Add(time.Minute)}
		got, err := events.Collect(s.QueryRange(ctx, events.Filter{
			Kinds: []events.Kind{events.KindConnect},
			Agent: &torVPN,
		}, window))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "alice", got[0].Username())
		assert.Equal(t, torVPN, got[0].Agent)
	})

	t.Run("QueryRangeAcceptsUnboundedWindows", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		id := mustAppend(t, s, heartbeat(torVPN, base))

		for name, window := range map[string]events.Window{
			"far future end":  {From: base.Add(-time.Hour), To: time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)},
			"far past start":  {From: time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC), To: base.Add(time.Hour)},
			"both out of int": {From: time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)},
		} {
			got, err := events.Collect(s.QueryRange(ctx, events.Filter{}, window))
			require.NoError(t, err, name)
			assert.Equal(t, []int64{id}, ids(got), name)
		}
	})

	t.Run("PayloadsRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		mustAppend(t, s, events.Event{
			Timestamp: base,
			Kind:      events.KindHeartbeat,
			Agent:     torVPN,
			Heartbeat: &events.HeartbeatPayload{
				PublicAddress:  ptr("203.0.113.7"),
				UptimeSeconds:  ptr(int64(3600)),
				StoreReachable: ptr(true),
			},
		})
		mustAppend(t, s, events.Event{
			Timestamp: base.Add(time.Second),
			Kind:      events.KindSystemStats,
			Agent:     torVPN,
			Stats: &events.StatsPayload{
				CPUPercent: 12.5, MemoryPercent: 40, DiskPercent: 71.25,
				Interfaces: map[string]string{"ens4": "203.0.113.7"},
			},
		})
		mustAppend(t, s, events.Event{
			Timestamp: base.Add(2 * time.Second),
			Kind:      events.KindHeartbeat,
			Agent:     torVPN,
			Heartbeat: &events.HeartbeatPayload{},
		})

		got, err := events.Collect(s.QueryRange(ctx, events.Filter{}, events.Window{From: base, To: base.Add(time.Minute)}))
		require.NoError(t, err)
		require.Len(t, got, 3)

		hb := got[0].Heartbeat
		require.NotNil(t, hb)
		assert.Equal(t, "203.0.113.7", *hb.PublicAddress)
		assert.Equal(t, int64(3600), *hb.UptimeSeconds)
		assert.True(t, *hb.StoreReachable)
		assert.True(t, got[0].Timestamp.Equal(base))

		st := got[1].Stats
		require.NotNil(t, st)
		assert.InDelta(t, 71.25, st.DiskPercent, 0.0001)
		assert.Equal(t, "203.0.113.7", st.Interfaces["ens4"])

		require.NotNil(t, got[2].Heartbeat)
		assert.Nil(t, got[2].Heartbeat.PublicAddress)
		assert.Nil(t, got[2].Heartbeat.UptimeSeconds)
	})

	t.Run("TailSinceReturnsArrivalOrderWithLimit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := mustAppend(t, s, heartbeat(torVPN, base.Add(time.Hour)))
		b := mustAppend(t, s, heartbeat(mtlVPN, base))
		c := mustAppend(t, s, heartbeat(torVPN, base.Add(time.Minute)))

		got, err := events.Collect(s.TailSince(ctx, a, 10))
		require.NoError(t, err)
		assert.Equal(t, []int64{b, c}, ids(got))

		got, err = events.Collect(s.TailSince(ctx, 0, 2))
		require.NoError(t, err)
		assert.Equal(t, []int64{a, b}, ids(got))

		got, err = events.Collect(s.TailSince(ctx, c, 10))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("AgentsAreDistinctAndSorted", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		mustAppend(t, s, heartbeat(torVPN, base))
		mustAppend(t, s, connect(mtlVPN, base, "bob"))
		mustAppend(t, s, heartbeat(torVPN, base.Add(time.Minute)))

		agents, err := s.Agents(ctx)
		require.NoError(t, err)
		assert.Equal(t, []events.AgentID{torVPN, mtlVPN}, agents)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(context.Background()))
	})
}

func heartbeat(agent events.AgentID, ts time.Time) events.Event {
	return events.Event{Timestamp: ts, Kind: events.KindHeartbeat, Agent: agent, Heartbeat: &events.HeartbeatPayload{}}
}

func connect(agent events.AgentID, ts time.Time, user string) events.Event {
	return events.Event{
		Timestamp:  ts,
		Kind:       events.KindConnect,
		Agent:      agent,
		Connection: &events.ConnectionPayload{ClientAddress: "198.51.100.4", ClientPort: 51820, Username: user},
	}
}

func mustAppend(t *testing.T, s events.Store, ev events.Event) int64 {
	t.Helper()
	id, err := s.Append(context.Background(), ev)
	require.NoError(t, err)
	return id
}

func ids(evs []events.Event) []int64 {
	out := make([]int64, len(evs))
	for i, ev := range evs {
		out[i] = ev.ID
	}
	return out
}
