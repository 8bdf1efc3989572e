package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/EternisAI/fleetwatch/internal/events"
)

// ErrSubscriptionClosed is returned when a handle is used after its
// subscription reached the closed state.
var ErrSubscriptionClosed = errors.New("subscription closed")

type State int

const (
	StateConnecting State = iota
	StateActive
	StateBackpressured
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateBackpressured:
		return "backpressured"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Delivery is one item handed to an observer: either an event or a gap
// marker. Dropped counts events discarded because the observer fell behind;
// Late counts events skipped because they arrived older than what the
// observer had already been handed.
type Delivery struct {
	Event   events.Event `json:"event"`
	Dropped int          `json:"dropped,omitempty"`
	Late    int          `json:"late,omitempty"`
}

func (d Delivery) IsGap() bool { return d.Dropped > 0 || d.Late > 0 }

// Info is a point-in-time view of a subscription for listing.
type Info struct {
	ID        string        `json:"id"`
	State     string        `json:"state"`
	Kinds     []events.Kind `json:"kinds,omitempty"`
	Agent     string        `json:"agent,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	Queued    int           `json:"queued"`
	Delivered uint64        `json:"delivered"`
	Dropped   uint64        `json:"dropped"`
	Late      uint64        `json:"late"`
	LastID    int64         `json:"last_event_id"`
}

type Subscription struct {
	id        string
	filter    events.Filter
	capacity  int
	createdAt time.Time
	dist      *Distributor

	mu      sync.Mutex
	state   State
	queue   []events.Event
	gap     int // dropped since the last delivery
	skipped int // late since the last delivery
	startID int64
	lastTS  time.Time
	lastID  int64

	// Overflow while connecting, settled against the start position.
	earlyDropped   int
	earlyDropMaxID int64

	delivered uint64
	dropped   uint64
	late      uint64

	ready chan struct{}
	done  chan struct{}
	stop  func() bool
}

func newSubscription(id string, filter events.Filter, capacity int, createdAt time.Time, dist *Distributor) *Subscription {
	return &Subscription{
		id:        id,
		filter:    filter,
		capacity:  capacity,
		createdAt: createdAt,
		dist:      dist,
		state:     StateConnecting,
		startID:   -1,
		queue:     make([]events.Event, 0, min(capacity, 64)),
		ready:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the subscription reaches the closed state.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unsubscribes. Closing an already closed subscription returns
// ErrSubscriptionClosed.
func (s *Subscription) Close() error {
	return s.dist.Unsubscribe(s.id)
}

// Next blocks until a delivery is available, the subscription closes or ctx
// ends. A pending gap is always reported before the event that follows it.
func (s *Subscription) Next(ctx context.Context) (Delivery, error) {
	for {
		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return Delivery{}, ErrSubscriptionClosed
		}
		if s.gap > 0 || s.skipped > 0 {
			d := Delivery{Dropped: s.gap, Late: s.skipped}
			s.gap, s.skipped = 0, 0
			s.mu.Unlock()
			return d, nil
		}
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = events.Event{}
			s.queue = s.queue[1:]
			if s.state == StateBackpressured {
				s.state = StateActive
			}
			s.delivered++
			s.mu.Unlock()
			s.dist.metrics.Delivered(1)
			return Delivery{Event: ev}, nil
		}
		s.mu.Unlock()

		select {
		case <-s.ready:
		case <-s.done:
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		}
	}
}

// Deliver pumps deliveries into send until ctx ends or the subscription
// closes. A send error is treated as a dead transport: the subscription is
// closed and the error returned.
func (s *Subscription) Deliver(ctx context.Context, send func(Delivery) error) error {
	for {
		d, err := s.Next(ctx)
		if err != nil {
			return err
		}
		if err := send(d); err != nil {
			s.dist.release(s, "send failed")
			return err
		}
	}
}

// offer queues tail events for the observer. Events at or below the start
// position were already covered by the backlog; events older than what was
// already queued are skipped so delivery stays ordered, and surface as a
// gap.
func (s *Subscription) offer(batch []events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return
	case StateConnecting:
		// Ordering is applied once the start position is known; the bound
		// applies now.
		for _, ev := range batch {
			if !s.filter.Matches(ev) {
				continue
			}
			if len(s.queue) >= s.capacity {
				s.earlyDropped++
				s.earlyDropMaxID = max(s.earlyDropMaxID, s.queue[0].ID)
				s.queue[0] = events.Event{}
				s.queue = s.queue[1:]
			}
			s.queue = append(s.queue, ev)
		}
		return
	}

	var queued, dropped, late int
	for _, ev := range batch {
		if !s.filter.Matches(ev) || ev.ID <= s.startID {
			continue
		}
		ok, drop := s.push(ev)
		switch {
		case !ok:
			late++
		case drop:
			dropped++
			queued++
		default:
			queued++
		}
	}

	s.dist.metrics.Dropped(dropped)
	s.dist.metrics.Late(late)
	if queued > 0 || late > 0 {
		s.signal()
	}
}

// push must be called with mu held.
func (s *Subscription) push(ev events.Event) (ok, dropped bool) {
	if ev.Timestamp.Before(s.lastTS) {
		s.late++
		s.skipped++
		return false, false
	}
	if len(s.queue) >= s.capacity {
		s.queue[0] = events.Event{}
		s.queue = s.queue[1:]
		s.gap++
		s.dropped++
		dropped = true
		if s.state == StateActive {
			s.state = StateBackpressured
		}
	}
	s.queue = append(s.queue, ev)
	s.lastTS = ev.Timestamp
	s.lastID = max(s.lastID, ev.ID)
	return true, dropped
}

// activate leaves the connecting state. Events the poller queued while the
// subscription was connecting are kept only if they are newer than head, and
// are placed after the backlog.
func (s *Subscription) activate(head int64, backlog []events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return
	}

	early := s.queue
	s.queue = make([]events.Event, 0, cap(early))
	s.lastTS = time.Time{}
	s.startID = head
	s.state = StateActive

	// Overflow that reached past head lost live events; anything at or below
	// head was never due.
	var dropped int
	if s.earlyDropped > 0 && s.earlyDropMaxID > head {
		s.gap += s.earlyDropped
		s.dropped += uint64(s.earlyDropped)
		dropped += s.earlyDropped
	}
	s.earlyDropped, s.earlyDropMaxID = 0, 0

	for _, ev := range backlog {
		if _, drop := s.push(ev); drop {
			dropped++
		}
	}
	for _, ev := range early {
		if ev.ID <= head {
			continue
		}
		if _, drop := s.push(ev); drop {
			dropped++
		}
	}
	s.dist.metrics.Dropped(dropped)
	if len(s.queue) > 0 || s.gap > 0 || s.skipped > 0 {
		s.signal()
	}
}

// shutdown moves to closed and releases the queue. It reports whether this
// call performed the transition.
func (s *Subscription) shutdown() bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.state = StateClosed
	s.queue = nil
	s.gap, s.skipped = 0, 0
	close(s.done)
	stop := s.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	return true
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Subscription) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:        s.id,
		State:     s.state.String(),
		Kinds:     s.filter.Kinds,
		CreatedAt: s.createdAt,
		Queued:    len(s.queue),
		Delivered: s.delivered,
		Dropped:   s.dropped,
		Late:      s.late,
		LastID:    s.lastID,
	}
	if s.filter.Agent != nil {
		info.Agent = s.filter.Agent.String()
	}
	return info
}
