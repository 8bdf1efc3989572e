// Package ingest is the single write path into the event store.
package ingest

import (
	"context"
	"log/slog"

	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/metrics"
)

// Waker is told that new events are available. The live feed distributor
// implements it.
type Waker interface {
	Wake()
}

// Publisher forwards append notifications to other instances.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

type Service struct {
	store     events.Store
	metrics   *metrics.Metrics
	waker     Waker
	publisher Publisher
}

// NewService wires the write path. waker and publisher may be nil.
func NewService(store events.Store, m *metrics.Metrics, waker Waker, publisher Publisher) *Service {
	return &Service{
		store:     store,
		metrics:   m,
		waker:     waker,
		publisher: publisher,
	}
}

// Append validates and stores ev and returns it with its assigned ID. A
// failed notification is logged but does not fail the append; the live feed
// still picks the event up on its next poll.
func (s *Service) Append(ctx context.Context, ev events.Event) (events.Event, error) {
	ev.Timestamp = ev.Timestamp.UTC()
	if err := events.Validate(ev); err != nil {
		s.metrics.IngestFailed()
		return events.Event{}, err
	}

	id, err := s.store.Append(ctx, ev)
	if err != nil {
		s.metrics.IngestFailed()
		slog.Error("Failed to append event", "agent", ev.Agent.String(), "kind", ev.Kind, "error", err)
		return events.Event{}, err
	}
	ev.ID = id
	s.metrics.EventIngested(string(ev.Kind))

	if s.waker != nil {
		s.waker.Wake()
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			slog.Warn("Failed to publish append notification", "event_id", id, "error", err)
		}
	}

	slog.Debug("Event appended", "event_id", id, "agent", ev.Agent.String(), "kind", ev.Kind)
	return ev, nil
}
