package feed

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/fleetwatch/internal/clock"
	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/metrics"
	"github.com/EternisAI/fleetwatch/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	base   = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	torVPN = events.AgentID{Name: "vpn-1", Location: "toronto"}
	mtlVPN = events.AgentID{Name: "vpn-2", Location: "montreal"}
)

type fixture struct {
	store *memory.Store
	clock *clock.Fake
	dist  *Distributor
}

func newFixture(cfg Config) *fixture {
	s := memory.New()
	clk := clock.NewFake(base)
	return &fixture{store: s, clock: clk, dist: New(s, cfg, clk, metrics.New())}
}

func (f *fixture) append(t *testing.T, kind events.Kind, agent events.AgentID, ts time.Time) int64 {
	t.Helper()
	ev := events.Event{Timestamp: ts, Kind: kind, Agent: agent}
	if kind.IsConnection() {
		ev.Connection = &events.ConnectionPayload{Username: "alice"}
	}
	if kind == events.KindHeartbeat {
		ev.Heartbeat = &events.HeartbeatPayload{}
	}
	id, err := f.store.Append(context.Background(), ev)
	require.NoError(t, err)
	return id
}

func (f *fixture) poll(t *testing.T) int {
	t.Helper()
	n, err := f.dist.PollOnce(context.Background())
	require.NoError(t, err)
	return n
}

// drain returns everything currently queued without waiting for more.
func drain(t *testing.T, s *Subscription) []Delivery {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out []Delivery
	for {
		d, err := s.Next(ctx)
		if err != nil {
			require.ErrorIs(t, err, context.Canceled)
			return out
		}
		out = append(out, d)
	}
}

func ids(ds []Delivery) []int64 {
	var out []int64
	for _, d := range ds {
		if !d.IsGap() {
			out = append(out, d.Event.ID)
		}
	}
	return out
}

func TestSubscribe_StartsAtHead(t *testing.T) {
	f := newFixture(Config{})
	f.append(t, events.KindConnect, torVPN, base.Add(-time.Minute))

	sub, err := f.dist.Subscribe(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StateActive, sub.State())

	second := f.append(t, events.KindConnect, torVPN, base)
	third := f.append(t, events.KindDisconnect, torVPN, base.Add(time.Second))
	assert.Equal(t, 2, f.poll(t))

	assert.Equal(t, []int64{second, third}, ids(drain(t, sub)))
}

func TestSubscribe_FilterByKindAndAgent(t *testing.T) {
	f := newFixture(Config{})
	sub, err := f.dist.Subscribe(context.Background(), Options{Filter: events.Filter{
		Kinds: []events.Kind{events.KindAuthenticated},
		Agent: &mtlVPN,
	}})
	require.NoError(t, err)

	f.append(t, events.KindAuthenticated, torVPN, base)
	want := f.append(t, events.KindAuthenticated, mtlVPN, base)
	f.append(t, events.KindHeartbeat, mtlVPN, base)
	f.poll(t)

	assert.Equal(t, []int64{want}, ids(drain(t, sub)))
}

func TestSubscribe_RejectsInvalidOptions(t *testing.T) {
	f := newFixture(Config{MaxBacklog: time.Hour})

	_, err := f.dist.Subscribe(context.Background(), Options{Backlog: 2 * time.Hour})
	assert.ErrorIs(t, err, events.ErrValidation)

	_, err = f.dist.Subscribe(context.Background(), Options{Filter: events.Filter{Kinds: []events.Kind{"reboot"}}})
	assert.ErrorIs(t, err, events.ErrValidation)

	assert.Empty(t, f.dist.Active())
}

func TestSubscribe_StoreFailureLeavesNothingRegistered(t *testing.T) {
	f := newFixture(Config{})
	f.store.SetFailure(errors.New("connection refused"))

	_, err := f.dist.Subscribe(context.Background(), Options{})
	assert.ErrorIs(t, err, events.ErrStoreUnavailable)
	assert.Empty(t, f.dist.Active())
	assert.Zero(t, f.dist.Count())
}

func TestDelivery_NoDuplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	f := newFixture(Config{BatchSize: 4})

	// Prime the shared cursor before history exists so the tail must skip
	// what the subscription already treats as past.
	f.poll(t)
	for i := 0; i < 5; i++ {
		f.append(t, events.KindHeartbeat, torVPN, base.Add(time.Duration(i)*time.Second))
	}

	sub, err := f.dist.Subscribe(context.Background(), Options{QueueSize: 1000})
	require.NoError(t, err)

	var want []int64
	ts := base.Add(time.Minute)
	for round := 0; round < 30; round++ {
		for i := 0; i < rng.Intn(6); i++ {
			ts = ts.Add(time.Duration(rng.Intn(3)) * time.Second)
			want = append(want, f.append(t, events.KindConnect, torVPN, ts))
		}
		if rng.Intn(2) == 0 {
			f.poll(t)
		}
	}
	f.poll(t)
	f.poll(t)

	assert.Equal(t, want, ids(drain(t, sub)))
}

func TestDelivery_SameTimestampKeepsArrivalOrder(t *testing.T) {
	f := newFixture(Config{})
	sub, err := f.dist.Subscribe(context.Background(), Options{})
	require.NoError(t, err)

	a := f.append(t, events.KindConnect, torVPN, base)
	b := f.append(t, events.KindConnect, mtlVPN, base)
	c := f.append(t, events.KindConnect, torVPN, base.Add(-time.Second)) // late within the batch
	f.poll(t)

	// Sorted by timestamp the batch is c, a, b.
	assert.Equal(t, []int64{c, a, b}, ids(drain(t, sub)))
}

func TestDelivery_LateEventsSurfaceAsGap(t *testing.T) {
	f := newFixture(Config{})
	sub, err := f.dist.Subscribe(context.Background(), Options{})
	require.NoError(t, err)

	first := f.append(t, events.KindConnect, torVPN, base.Add(10*time.Second))
	f.poll(t)
	f.append(t, events.KindConnect, torVPN, base.Add(5*time.Second))
	third := f.append(t, events.KindConnect, torVPN, base.Add(10*time.Second))
	f.poll(t)

	got := drain(t, sub)
	assert.Equal(t, []int64{first, third}, ids(got))
	require.Len(t, got, 3)
	assert.Equal(t, Delivery{Late: 1}, got[1])
	assert.True(t, got[1].IsGap())

	active := f.dist.Active()
	require.Len(t, active, 1)
	assert.Equal(t, uint64(1), active[0].Late)
}

func TestDelivery_LateGapWakesWaitingObserver(t *testing.T) {
	f := newFixture(Config{})
	sub, err := f.dist.Subscribe(context.Background(), Options{})
	require.NoError(t, err)

	f.append(t, events.KindConnect, torVPN, base.Add(10*time.Second))
	f.poll(t)
	drain(t, sub)

	f.append(t, events.KindConnect, torVPN, base)
	f.poll(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Delivery{Late: 1}, d)
}

func TestConnecting_QueueIsBounded(t *testing.T) {
	tests := []struct {
		name    string
		head    int64
		wantIDs []int64
		wantGap int
	}{
		{name: "overflow past head is a gap", head: 0, wantIDs: []int64{4, 5}, wantGap: 3},
		{name: "overflow below head is not", head: 3, wantIDs: []int64{4, 5}, wantGap: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Config{})
			sub := newSubscription("connecting", events.Filter{}, 2, base, f.dist)

			var batch []events.Event
			for i := int64(1); i <= 5; i++ {
				batch = append(batch, events.Event{ID: i, Timestamp: base.Add(time.Duration(i) * time.Second), Kind: events.KindConnect, Agent: torVPN})
			}
			sub.offer(batch)
			sub.mu.Lock()
			assert.Len(t, sub.queue, 2)
			sub.mu.Unlock()

			sub.activate(tt.head, nil)
			got := drain(t, sub)
			assert.Equal(t, tt.wantIDs, ids(got))
			if tt.wantGap > 0 {
				require.NotEmpty(t, got)
				assert.Equal(t, tt.wantGap, got[0].Dropped)
			} else {
				for _, d := range got {
					assert.False(t, d.IsGap())
				}
			}
		})
	}
}

func TestBackpressure_DropsOldestAndSignalsGap(t *testing.T) {
	f := newFixture(Config{})
	sub, err := f.dist.Subscribe(context.Background(), Options{QueueSize: 2})
	require.NoError(t, err)

	var appended []int64
	for i := 0; i < 5; i++ {
		appended = append(appended, f.append(t, events.KindConnect, torVPN, base.Add(time.Duration(i)*time.Second)))
	}
	f.poll(t)
	assert.Equal(t, StateBackpressured, sub.State())

	got := drain(t, sub)
	require.Len(t, got, 3)
	assert.True(t, got[0].IsGap())
	assert.Equal(t, 3, got[0].Dropped)
	assert.Equal(t, appended[3:], ids(got[1:]))
	assert.Equal(t, StateActive, sub.State())

	next := f.append(t, events.KindConnect, torVPN, base.Add(time.Minute))
	f.poll(t)
	assert.Equal(t, []Delivery{{Event: mustEvent(t, f.store, next)}}, drain(t, sub))

	info := f.dist.Active()[0]
	assert.Equal(t, uint64(3), info.Dropped)
	assert.Equal(t, uint64(3), info.Delivered)
}

func mustEvent(t *testing.T, s *memory.Store, id int64) events.Event {
	t.Helper()
	evs, err := events.Collect(s.TailSince(context.Background(), id-1, 1))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	return evs[0]
}

func TestBackpressure_NeverBlocksThePoller(t *testing.T) {
	f := newFixture(Config{})
	slow, err := f.dist.Subscribe(context.Background(), Options{QueueSize: 1})
	require.NoError(t, err)
	fast, err := f.dist.Subscribe(context.Background(), Options{QueueSize: 100})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		f.append(t, events.KindHeartbeat, torVPN, base.Add(time.Duration(i)*time.Millisecond))
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.dist.PollOnce(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poll blocked on a full subscriber queue")
	}

	assert.Len(t, drain(t, fast), 50)
	got := drain(t, slow)
	require.Len(t, got, 2)
	assert.Equal(t, 49, got[0].Dropped)
}

func TestBacklog_DeliveredOnceBeforeLiveEvents(t *testing.T) {
	f := newFixture(Config{MaxBacklog: time.Hour})
	f.poll(t)

	f.append(t, events.KindConnect, torVPN, base.Add(-2*time.Hour))
	older := f.append(t, events.KindConnect, torVPN, base.Add(-30*time.Minute))
	newer := f.append(t, events.KindConnect, mtlVPN, base.Add(-10*time.Minute))

	sub, err := f.dist.Subscribe(context.Background(), Options{Backlog: time.Hour})
	require.NoError(t, err)

	live := f.append(t, events.KindConnect, torVPN, base.Add(time.Second))
	f.poll(t)

	assert.Equal(t, []int64{older, newer, live}, ids(drain(t, sub)))
}

func TestUnsubscribe_ImmediatelyAfterSubscribe(t *testing.T) {
	f := newFixture(Config{})
	sub, err := f.dist.Subscribe(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, f.dist.Active(), 1)

	require.NoError(t, f.dist.Unsubscribe(sub.ID()))
	assert.Empty(t, f.dist.Active())
	assert.Zero(t, f.dist.Count())
	assert.Equal(t, StateClosed, sub.State())

	assert.ErrorIs(t, f.dist.Unsubscribe(sub.ID()), ErrSubscriptionClosed)
	assert.ErrorIs(t, sub.Close(), ErrSubscriptionClosed)

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)

	// Later events are not routed anywhere.
	f.append(t, events.KindConnect, torVPN, base)
	f.poll(t)
	assert.Empty(t, f.dist.Active())
}

func TestUnsubscribe_UnknownID(t *testing.T) {
	f := newFixture(Config{})
	assert.ErrorIs(t, f.dist.Unsubscribe("missing"), ErrSubscriptionClosed)
}

func TestContextCancellationReleasesSubscription(t *testing.T) {
	f := newFixture(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := f.dist.Subscribe(ctx, Options{})
	require.NoError(t, err)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not released after cancellation")
	}
	assert.Empty(t, f.dist.Active())
}

func TestNext_WakesOnNewEvents(t *testing.T) {
	f := newFixture(Config{})
	sub, err := f.dist.Subscribe(context.Background(), Options{})
	require.NoError(t, err)

	got := make(chan Delivery, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d, err := sub.Next(ctx)
		if err == nil {
			got <- d
		}
		close(got)
	}()

	id := f.append(t, events.KindConnect, torVPN, base)
	f.poll(t)

	d, ok := <-got
	require.True(t, ok)
	assert.Equal(t, id, d.Event.ID)
}

func TestDeliver_SendErrorClosesSubscription(t *testing.T) {
	f := newFixture(Config{})
	sub, err := f.dist.Subscribe(context.Background(), Options{})
	require.NoError(t, err)

	f.append(t, events.KindConnect, torVPN, base)
	f.poll(t)

	broken := errors.New("broken pipe")
	err = sub.Deliver(context.Background(), func(Delivery) error { return broken })
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, StateClosed, sub.State())
	assert.Empty(t, f.dist.Active())
}

func TestRun_WakeTriggersPollAndShutdownClosesAll(t *testing.T) {
	f := newFixture(Config{PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	runDone := make(chan error, 1)
	go func() { runDone <- f.dist.Run(ctx) }()

	sub, err := f.dist.Subscribe(context.Background(), Options{})
	require.NoError(t, err)

	id := f.append(t, events.KindConnect, torVPN, base)
	f.dist.Wake()

	nextCtx, nextCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer nextCancel()
	d, err := sub.Next(nextCtx)
	require.NoError(t, err)
	assert.Equal(t, id, d.Event.ID)

	cancel()
	require.NoError(t, <-runDone)
	<-sub.Done()
	assert.Empty(t, f.dist.Active())
}

func TestConcurrentSubscribersWhilePolling(t *testing.T) {
	f := newFixture(Config{BatchSize: 8})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			ev := events.Event{
				Timestamp: base.Add(time.Duration(i) * time.Millisecond),
				Kind:      events.KindHeartbeat,
				Agent:     torVPN,
				Heartbeat: &events.HeartbeatPayload{},
			}
			if _, err := f.store.Append(ctx, ev); err != nil {
				t.Errorf("append: %v", err)
				return
			}
			if _, err := f.dist.PollOnce(ctx); err != nil {
				t.Errorf("poll: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := f.dist.Subscribe(ctx, Options{QueueSize: 4})
			if err != nil {
				t.Errorf("subscribe %d: %v", i, err)
				return
			}
			if err := f.dist.Unsubscribe(sub.ID()); err != nil {
				t.Errorf("unsubscribe %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, f.dist.Active())
	assert.Zero(t, f.dist.Count())
}
