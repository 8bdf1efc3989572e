package events

import (
	"context"
	"fmt"
	"iter"
	"math"
	"slices"
	"strings"
	"time"
)

// Store is the append-only event log consumed by the engines. Implementations
// live under internal/store.
type Store interface {
	// Append persists ev and returns its assigned ID. ev.ID is ignored.
	Append(ctx context.Context, ev Event) (int64, error)
	// QueryRange yields events matching filter with From <= timestamp < To,
	// ordered by timestamp then arrival, read from a single snapshot.
	QueryRange(ctx context.Context, filter Filter, window Window) iter.Seq2[Event, error]
	// TailSince yields up to limit events with ID > afterID in ID order.
	TailSince(ctx context.Context, afterID int64, limit int) iter.Seq2[Event, error]
	// LatestID returns the highest assigned ID, or 0 for an empty store.
	LatestID(ctx context.Context) (int64, error)
	// Agents returns every distinct agent mentioned by any event.
	Agents(ctx context.Context) ([]AgentID, error)
	Ping(ctx context.Context) error
}

// Filter narrows a query. Empty Kinds matches every kind; nil Agent matches
// every agent.
type Filter struct {
	Kinds []Kind
	Agent *AgentID
}

func (f Filter) Matches(ev Event) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}
	if f.Agent != nil && *f.Agent != ev.Agent {
		return false
	}
	return true
}

// KindStrings returns the kinds as plain strings for SQL parameters.
func (f Filter) KindStrings() []string {
	out := make([]string, len(f.Kinds))
	for i, k := range f.Kinds {
		out[i] = string(k)
	}
	return out
}

// Window is the half-open interval [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Until covers all storable history up to, but excluding, to.
func Until(to time.Time) Window {
	return Window{From: MinTimestamp, To: to}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

func (w Window) Duration() time.Duration {
	return w.To.Sub(w.From)
}

// Validate enforces From < To and an optional maximum length (0 disables it).
func (w Window) Validate(max time.Duration) error {
	if w.From.IsZero() || w.To.IsZero() {
		return fmt.Errorf("%w: window bounds are required", ErrValidation)
	}
	if !w.From.Before(w.To) {
		return fmt.Errorf("%w: window start %s is not before end %s", ErrValidation,
			w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
	}
	if max > 0 && w.Duration() > max {
		return fmt.Errorf("%w: window of %s exceeds maximum %s", ErrValidation, w.Duration(), max)
	}
	return nil
}

// Event timestamps must fit in int64 nanoseconds since the epoch, roughly
// the years 1678 to 2262.
var (
	MinTimestamp = time.Unix(0, math.MinInt64).UTC()
	MaxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// Validate checks that an event is well formed before it is appended.
func Validate(ev Event) error {
	if strings.TrimSpace(ev.Agent.Name) == "" {
		return fmt.Errorf("%w: agent name is required", ErrValidation)
	}
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	if ev.Timestamp.Before(MinTimestamp) || !ev.Timestamp.Before(MaxTimestamp) {
		return fmt.Errorf("%w: timestamp %s is out of range", ErrValidation, ev.Timestamp.Format(time.RFC3339))
	}
	if _, err := ParseKind(string(ev.Kind)); err != nil {
		return err
	}
	switch {
	case ev.Kind == KindSystemStats && ev.Stats == nil:
		return fmt.Errorf("%w: system_stats event without stats payload", ErrValidation)
	case ev.Kind.IsConnection() && (ev.Stats != nil || ev.Heartbeat != nil):
		return fmt.Errorf("%w: %s event carries a foreign payload", ErrValidation, ev.Kind)
	}
	return nil
}

// Collect drains a sequence, stopping at the first error.
func Collect(seq iter.Seq2[Event, error]) ([]Event, error) {
	var out []Event
	for ev, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Fail returns a sequence that yields err once.
func Fail(err error) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		yield(Event{}, err)
	}
}
