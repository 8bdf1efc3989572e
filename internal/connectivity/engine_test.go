package connectivity

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/EternisAI/fleetwatch/internal/clock"
	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0     = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	torVPN = events.AgentID{Name: "vpn-1", Location: "toronto"}
	mtlVPN = events.AgentID{Name: "vpn-2", Location: "montreal"}
)

func ptr[T any](v T) *T { return &v }

func minutePolicy() Policy {
	return Policy{HeartbeatInterval: 5 * time.Minute, MissedBeats: 2, SevereAfter: 30 * time.Minute}
}

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

func appendBeat(t *testing.T, s *memory.Store, agent events.AgentID, ts time.Time, hb *events.HeartbeatPayload) {
	t.Helper()
	if hb == nil {
		hb = &events.HeartbeatPayload{}
	}
	_, err := s.Append(context.Background(), events.Event{
		Timestamp: ts, Kind: events.KindHeartbeat, Agent: agent, Heartbeat: hb,
	})
	require.NoError(t, err)
}

func findStatus(t *testing.T, statuses []Status, agent events.AgentID) Status {
	t.Helper()
	for _, s := range statuses {
		if s.Agent == agent {
			return s
		}
	}
	t.Fatalf("agent %s missing from statuses", agent)
	return Status{}
}

func TestEngine_Status_ThresholdScenario(t *testing.T) {
	s := memory.New()
	for _, m := range []int{0, 5, 10} {
		appendBeat(t, s, torVPN, at(m), nil)
	}
	engine := NewEngine(s, minutePolicy(), clock.NewFake(at(100)))

	statuses, err := engine.Status(context.Background(), ptr(at(12)))
	require.NoError(t, err)
	st := findStatus(t, statuses, torVPN)
	assert.True(t, st.IsLive)
	assert.Equal(t, at(10), *st.LastHeartbeatAt)
	assert.Equal(t, 2*time.Minute, *st.SinceLastHeartbeat)

	statuses, err = engine.Status(context.Background(), ptr(at(21)))
	require.NoError(t, err)
	assert.False(t, findStatus(t, statuses, torVPN).IsLive)

	// Exactly at the threshold the agent is down.
	statuses, err = engine.Status(context.Background(), ptr(at(20)))
	require.NoError(t, err)
	assert.False(t, findStatus(t, statuses, torVPN).IsLive)
}

func TestEngine_Status_DefaultsToClockNow(t *testing.T) {
	s := memory.New()
	appendBeat(t, s, torVPN, at(0), nil)
	fake := clock.NewFake(at(3))
	engine := NewEngine(s, minutePolicy(), fake)

	statuses, err := engine.Status(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, findStatus(t, statuses, torVPN).IsLive)

	fake.Advance(20 * time.Minute)
	statuses, err = engine.Status(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, findStatus(t, statuses, torVPN).IsLive)
}

func TestEngine_Status_IgnoresFutureHeartbeats(t *testing.T) {
	s := memory.New()
	appendBeat(t, s, torVPN, at(0), nil)
	appendBeat(t, s, torVPN, at(30), nil)
	engine := NewEngine(s, minutePolicy(), nil)

	statuses, err := engine.Status(context.Background(), ptr(at(15)))
	require.NoError(t, err)
	st := findStatus(t, statuses, torVPN)
	assert.Equal(t, at(0), *st.LastHeartbeatAt)
	assert.False(t, st.IsLive)
}

func TestEngine_Status_HeartbeatExactlyAtAsOfCounts(t *testing.T) {
	s := memory.New()
	appendBeat(t, s, torVPN, at(7), nil)
	engine := NewEngine(s, minutePolicy(), nil)

	statuses, err := engine.Status(context.Background(), ptr(at(7)))
	require.NoError(t, err)
	st := findStatus(t, statuses, torVPN)
	require.True(t, st.Seen())
	assert.True(t, st.IsLive)
	assert.Zero(t, *st.SinceLastHeartbeat)
}

func TestEngine_Status_SkewTolerance(t *testing.T) {
	s := memory.New()
	appendBeat(t, s, torVPN, at(0), nil)
	appendBeat(t, s, torVPN, at(11).Add(20*time.Second), nil)

	policy := minutePolicy()
	policy.SkewTolerance = 30 * time.Second
	statuses, err := NewEngine(s, policy, nil).Status(context.Background(), ptr(at(11)))
	require.NoError(t, err)
	st := findStatus(t, statuses, torVPN)
	assert.True(t, st.IsLive)
	assert.Zero(t, *st.SinceLastHeartbeat)
}

func TestEngine_Status_NeverSeenAgentsAreReported(t *testing.T) {
	s := memory.New()
	appendBeat(t, s, torVPN, at(0), nil)
	_, err := s.Append(context.Background(), events.Event{
		Timestamp: at(1), Kind: events.KindConnect, Agent: mtlVPN,
		Connection: &events.ConnectionPayload{Username: "alice"},
	})
	require.NoError(t, err)

	statuses, err := NewEngine(s, minutePolicy(), nil).Status(context.Background(), ptr(at(2)))
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	never := findStatus(t, statuses, mtlVPN)
	assert.False(t, never.IsLive)
	assert.False(t, never.Seen())
	assert.Nil(t, never.SinceLastHeartbeat)
	assert.Nil(t, never.ReportedAddress)
}

func TestEngine_Status_CarriesFieldsForward(t *testing.T) {
	s := memory.New()
	appendBeat(t, s, torVPN, at(0), &events.HeartbeatPayload{
		PublicAddress: ptr("203.0.113.7"), UptimeSeconds: ptr(int64(60)), StoreReachable: ptr(true),
	})
	appendBeat(t, s, torVPN, at(5), &events.HeartbeatPayload{UptimeSeconds: ptr(int64(360))})
	appendBeat(t, s, torVPN, at(6), nil)

	statuses, err := NewEngine(s, minutePolicy(), nil).Status(context.Background(), ptr(at(7)))
	require.NoError(t, err)
	st := findStatus(t, statuses, torVPN)

	assert.Equal(t, at(6), *st.LastHeartbeatAt)
	assert.Equal(t, "203.0.113.7", *st.ReportedAddress)
	assert.Equal(t, int64(360), *st.ReportedUptimeSeconds)
	assert.True(t, *st.StoreReachable)
}

func TestEngine_Status_StoreFailureIsNotOffline(t *testing.T) {
	s := memory.New()
	appendBeat(t, s, torVPN, at(0), nil)
	s.SetFailure(errors.New("connection refused"))

	statuses, err := NewEngine(s, minutePolicy(), nil).Status(context.Background(), ptr(at(1)))
	assert.ErrorIs(t, err, events.ErrStoreUnavailable)
	assert.Nil(t, statuses)
}

func TestEngine_Status_Timeout(t *testing.T) {
	s := memory.New()
	appendBeat(t, s, torVPN, at(0), nil)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	statuses, err := NewEngine(s, minutePolicy(), nil).Status(ctx, ptr(at(1)))
	assert.ErrorIs(t, err, events.ErrTimeout)
	assert.Nil(t, statuses)
}

func TestEngine_Status_IsDeterministic(t *testing.T) {
	s := memory.New()
	for i := 0; i < 20; i++ {
		agent := torVPN
		if i%3 == 0 {
			agent = mtlVPN
		}
		appendBeat(t, s, agent, at(i), &events.HeartbeatPayload{UptimeSeconds: ptr(int64(i))})
	}
	engine := NewEngine(s, minutePolicy(), nil)

	first, err := engine.Status(context.Background(), ptr(at(25)))
	require.NoError(t, err)
	second, err := engine.Status(context.Background(), ptr(at(25)))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEngine_Alerts(t *testing.T) {
	s := memory.New()
	appendBeat(t, s, torVPN, at(0), nil)  // stale for 60m -> high
	appendBeat(t, s, mtlVPN, at(45), nil) // stale for 15m -> medium
	appendBeat(t, s, events.AgentID{Name: "vpn-3", Location: "vancouver"}, at(58), nil)

	alerts, err := NewEngine(s, minutePolicy(), nil).Alerts(context.Background(), ptr(at(60)))
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	assert.Equal(t, torVPN, alerts[0].Agent)
	assert.Equal(t, SeverityHigh, alerts[0].Severity)
	assert.Equal(t, time.Hour, alerts[0].SinceLastHeartbeat)

	assert.Equal(t, mtlVPN, alerts[1].Agent)
	assert.Equal(t, SeverityMedium, alerts[1].Severity)
	assert.Contains(t, alerts[1].Message, "vpn-2@montreal")
}

// The liveness rule must match a direct evaluation over any history.
func TestDerive_MatchesReferenceRule(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	policy := minutePolicy()

	for round := 0; round < 200; round++ {
		var history []events.Event
		for i := 0; i < rng.Intn(8); i++ {
			history = append(history, events.Event{
				ID:        int64(i + 1),
				Timestamp: at(rng.Intn(60)),
				Kind:      events.KindHeartbeat,
				Agent:     torVPN,
			})
		}
		evalAt := at(rng.Intn(70))

		var latest *time.Time
		for _, ev := range history {
			if !ev.Timestamp.After(evalAt) && (latest == nil || ev.Timestamp.After(*latest)) {
				ts := ev.Timestamp
				latest = &ts
			}
		}
		want := latest != nil && evalAt.Sub(*latest) < policy.Threshold()

		seq := func(yield func(events.Event, error) bool) {
			sorted := append([]events.Event(nil), history...)
			for i := range sorted {
				for j := i + 1; j < len(sorted); j++ {
					if sorted[j].Before(sorted[i]) {
						sorted[i], sorted[j] = sorted[j], sorted[i]
					}
				}
			}
			for _, ev := range sorted {
				if !yield(ev, nil) {
					return
				}
			}
		}

		statuses, err := Derive([]events.AgentID{torVPN}, seq, evalAt, policy)
		require.NoError(t, err)
		require.Len(t, statuses, 1)
		assert.Equal(t, want, statuses[0].IsLive, "round %d", round)
	}
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Equal(t, 10*time.Minute, DefaultPolicy().Threshold())
	assert.ErrorIs(t, Policy{MissedBeats: 2}.Validate(), events.ErrValidation)
	assert.ErrorIs(t, Policy{HeartbeatInterval: time.Minute}.Validate(), events.ErrValidation)
}
