// Package memory is an in-process event store used for development runs and
// tests. It keeps every event for the life of the process.
package memory

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/EternisAI/fleetwatch/internal/events"
)

type Store struct {
	mu     sync.RWMutex
	events []events.Event // ID order
	nextID int64

	// failWith, when set, is returned by every operation. Tests use it to
	// simulate an unreachable store.
	failWith error
}

func New() *Store {
	return &Store{nextID: 1}
}

// SetFailure makes every subsequent call fail with err; nil restores service.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

func (s *Store) Append(ctx context.Context, ev events.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, events.StoreError(ctx, "append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, events.StoreError(ctx, "append", s.failWith)
	}

	ev.ID = s.nextID
	ev.Timestamp = ev.Timestamp.UTC()
	s.nextID++
	s.events = append(s.events, ev)
	return ev.ID, nil
}

func (s *Store) QueryRange(ctx context.Context, filter events.Filter, window events.Window) iter.Seq2[events.Event, error] {
	s.mu.RLock()
	if s.failWith != nil {
		err := s.failWith
		s.mu.RUnlock()
		return events.Fail(events.StoreError(ctx, "query range", err))
	}
	snapshot := make([]events.Event, 0, len(s.events))
	for _, ev := range s.events {
		if filter.Matches(ev) && window.Contains(ev.Timestamp) {
			snapshot = append(snapshot, ev)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(snapshot, events.Compare)
	return yieldAll(ctx, "query range", snapshot)
}

func (s *Store) TailSince(ctx context.Context, afterID int64, limit int) iter.Seq2[events.Event, error] {
	s.mu.RLock()
	if s.failWith != nil {
		err := s.failWith
		s.mu.RUnlock()
		return events.Fail(events.StoreError(ctx, "tail", err))
	}
	// IDs are dense and start at 1, so the index of ID n is n-1.
	start := int(max(afterID, 0))
	var batch []events.Event
	if start < len(s.events) {
		end := len(s.events)
		if limit > 0 && start+limit < end {
			end = start + limit
		}
		batch = slices.Clone(s.events[start:end])
	}
	s.mu.RUnlock()

	return yieldAll(ctx, "tail", batch)
}

func (s *Store) LatestID(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return 0, events.StoreError(ctx, "latest id", s.failWith)
	}
	return s.nextID - 1, nil
}

func (s *Store) Agents(ctx context.Context) ([]events.AgentID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return nil, events.StoreError(ctx, "agents", s.failWith)
	}

	seen := make(map[events.AgentID]struct{})
	var out []events.AgentID
	for _, ev := range s.events {
		if _, ok := seen[ev.Agent]; ok {
			continue
		}
		seen[ev.Agent] = struct{}{}
		out = append(out, ev.Agent)
	}
	slices.SortFunc(out, events.CompareAgents)
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return events.StoreError(ctx, "ping", s.failWith)
	}
	return nil
}

func yieldAll(ctx context.Context, op string, batch []events.Event) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		for _, ev := range batch {
			if err := ctx.Err(); err != nil {
				yield(events.Event{}, events.StoreError(ctx, op, err))
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
