// Package feed fans newly appended events out to live observers. One shared
// poll task tails the store; each observer drains its own bounded queue.
package feed

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/EternisAI/fleetwatch/internal/clock"
	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/metrics"
)

const (
	DefaultPollInterval = time.Second
	DefaultQueueSize    = 256
	DefaultBatchSize    = 500
	DefaultMaxBacklog   = time.Hour
)

type Config struct {
	PollInterval time.Duration
	QueueSize    int
	BatchSize    int
	MaxBacklog   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxBacklog <= 0 {
		c.MaxBacklog = DefaultMaxBacklog
	}
	return c
}

// Options describe one subscription. Backlog asks for events from the last
// Backlog duration to be delivered before live ones; zero starts at now.
type Options struct {
	Filter    events.Filter
	Backlog   time.Duration
	QueueSize int
}

type Distributor struct {
	store   events.Store
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Metrics

	subs  sync.Map // id -> *Subscription
	count atomic.Int64

	pollMu sync.Mutex
	cursor int64
	primed bool

	wake chan struct{}
}

func New(store events.Store, cfg Config, clk clock.Clock, m *metrics.Metrics) *Distributor {
	if clk == nil {
		clk = clock.Real()
	}
	return &Distributor{
		store:   store,
		cfg:     cfg.withDefaults(),
		clock:   clk,
		metrics: m,
		wake:    make(chan struct{}, 1),
	}
}

// Subscribe registers an observer starting at the current store head. The
// subscription is released when ctx ends, on Unsubscribe, or when a send in
// Deliver fails.
func (d *Distributor) Subscribe(ctx context.Context, opts Options) (*Subscription, error) {
	if opts.Backlog < 0 || opts.Backlog > d.cfg.MaxBacklog {
		return nil, fmt.Errorf("%w: backlog must be between 0 and %s", events.ErrValidation, d.cfg.MaxBacklog)
	}
	for _, k := range opts.Filter.Kinds {
		if _, err := events.ParseKind(string(k)); err != nil {
			return nil, err
		}
	}
	size := opts.QueueSize
	if size <= 0 {
		size = d.cfg.QueueSize
	}

	if err := d.prime(ctx); err != nil {
		return nil, err
	}

	now := d.clock.Now()
	s := newSubscription(uuid.NewString(), opts.Filter, size, now, d)
	// Registered while connecting so nothing the poller dispatches between
	// reading the head and activation is missed.
	d.subs.Store(s.id, s)
	d.count.Add(1)
	d.metrics.SubscriberOpened()

	head, err := d.store.LatestID(ctx)
	if err != nil {
		d.release(s, "subscribe failed")
		return nil, err
	}

	var backlog []events.Event
	if opts.Backlog > 0 {
		window := events.Window{From: now.Add(-opts.Backlog), To: now.Add(time.Nanosecond)}
		for ev, err := range d.store.QueryRange(ctx, opts.Filter, window) {
			if err != nil {
				d.release(s, "backlog failed")
				return nil, err
			}
			if ev.ID <= head {
				backlog = append(backlog, ev)
			}
		}
	}

	s.activate(head, backlog)

	stop := context.AfterFunc(ctx, func() { d.release(s, "context done") })
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()

	slog.Info("Live feed subscription opened",
		"subscription_id", s.id,
		"kinds", opts.Filter.KindStrings(),
		"backlog", len(backlog),
		"start_id", head,
		"active", d.count.Load())
	return s, nil
}

// Unsubscribe closes the subscription. An unknown or already closed ID
// returns ErrSubscriptionClosed.
func (d *Distributor) Unsubscribe(id string) error {
	v, ok := d.subs.Load(id)
	if !ok {
		return ErrSubscriptionClosed
	}
	if !d.release(v.(*Subscription), "unsubscribed") {
		return ErrSubscriptionClosed
	}
	return nil
}

func (d *Distributor) release(s *Subscription, reason string) bool {
	if !s.shutdown() {
		return false
	}
	d.subs.Delete(s.id)
	d.count.Add(-1)
	d.metrics.SubscriberClosed()
	slog.Info("Live feed subscription closed",
		"subscription_id", s.id,
		"reason", reason,
		"active", d.count.Load())
	return true
}

// Active lists open subscriptions ordered by creation time.
func (d *Distributor) Active() []Info {
	var out []Info
	d.subs.Range(func(_, v any) bool {
		if info := v.(*Subscription).info(); info.State != StateClosed.String() {
			out = append(out, info)
		}
		return true
	})
	slices.SortFunc(out, func(a, b Info) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (d *Distributor) Count() int { return int(d.count.Load()) }

// Wake triggers a poll ahead of the next tick. It never blocks.
func (d *Distributor) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run polls the store until ctx ends, then closes every subscription.
func (d *Distributor) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	slog.Info("Live feed distributor started",
		"poll_interval", d.cfg.PollInterval,
		"batch_size", d.cfg.BatchSize,
		"queue_size", d.cfg.QueueSize)

	for {
		select {
		case <-ctx.Done():
			d.closeAll()
			slog.Info("Live feed distributor stopped")
			return nil
		case <-ticker.C:
		case <-d.wake:
		}

		if _, err := d.PollOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("Live feed poll failed", "error", err)
		}
	}
}

// PollOnce drains everything appended since the last poll and dispatches it.
// It returns the number of events read from the store.
func (d *Distributor) PollOnce(ctx context.Context) (int, error) {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()

	if err := d.primeLocked(ctx); err != nil {
		d.metrics.Polled(false)
		return 0, err
	}

	total := 0
	for {
		batch, err := events.Collect(d.store.TailSince(ctx, d.cursor, d.cfg.BatchSize))
		if err != nil {
			d.metrics.Polled(false)
			return total, err
		}
		if len(batch) == 0 {
			break
		}

		for _, ev := range batch {
			d.cursor = max(d.cursor, ev.ID)
		}
		slices.SortStableFunc(batch, events.Compare)
		d.dispatch(batch)
		total += len(batch)

		if len(batch) < d.cfg.BatchSize {
			break
		}
	}

	d.metrics.Polled(true)
	if total > 0 {
		slog.Debug("Live feed dispatched", "events", total, "cursor", d.cursor, "subscribers", d.count.Load())
	}
	return total, nil
}

func (d *Distributor) dispatch(batch []events.Event) {
	d.subs.Range(func(_, v any) bool {
		v.(*Subscription).offer(batch)
		return true
	})
}

func (d *Distributor) prime(ctx context.Context) error {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()
	return d.primeLocked(ctx)
}

// primeLocked starts the shared cursor at the store head the first time it
// is needed.
func (d *Distributor) primeLocked(ctx context.Context) error {
	if d.primed {
		return nil
	}
	head, err := d.store.LatestID(ctx)
	if err != nil {
		return err
	}
	d.cursor = head
	d.primed = true
	return nil
}

func (d *Distributor) closeAll() {
	d.subs.Range(func(_, v any) bool {
		d.release(v.(*Subscription), "distributor stopped")
		return true
	})
}
