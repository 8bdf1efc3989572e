// Package postgres is the production event store, backed by the events table
// created by internal/db migrations.
package postgres

import (
	"context"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EternisAI/fleetwatch/internal/events"
)

// appendLockKey serialises appends so that IDs become visible in the order
// they were assigned. Without it a tail reader could advance past an ID whose
// transaction commits later.
const appendLockKey int64 = 0x666c656574 // "fleet"

const (
	selectColumns = `id, ts, kind, agent_name, agent_location, payload`

	insertEvent = `
INSERT INTO events (ts, kind, agent_name, agent_location, payload)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`

	queryRange = `
SELECT ` + selectColumns + `
FROM events
WHERE ts >= $1 AND ts < $2
  AND (cardinality($3::text[]) = 0 OR kind = ANY($3::text[]))
  AND ($4::text IS NULL OR (agent_name = $4 AND agent_location = $5))
ORDER BY ts, id`

	tailSince = `
SELECT ` + selectColumns + `
FROM events
WHERE id > $1
ORDER BY id
LIMIT $2`

	latestID = `SELECT COALESCE(MAX(id), 0) FROM events`

	distinctAgents = `
SELECT DISTINCT agent_name, agent_location
FROM events
ORDER BY agent_name, agent_location`
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Append(ctx context.Context, ev events.Event) (int64, error) {
	payload, err := events.EncodePayload(ev)
	if err != nil {
		return 0, err
	}

	var id int64
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
			return err
		}
		return tx.QueryRow(ctx, insertEvent,
			ev.Timestamp.UTC(), string(ev.Kind), ev.Agent.Name, ev.Agent.Location, payload,
		).Scan(&id)
	})
	if err != nil {
		return 0, events.StoreError(ctx, "append", err)
	}
	return id, nil
}

// QueryRange reads inside a read-only REPEATABLE READ transaction so the whole
// sequence comes from one snapshot.
func (s *Store) QueryRange(ctx context.Context, filter events.Filter, window events.Window) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
			IsoLevel:   pgx.RepeatableRead,
			AccessMode: pgx.ReadOnly,
		})
		if err != nil {
			yield(events.Event{}, events.StoreError(ctx, "query range", err))
			return
		}
		defer tx.Rollback(context.WithoutCancel(ctx))

		var name, location *string
		if filter.Agent != nil {
			name, location = &filter.Agent.Name, &filter.Agent.Location
		}
		rows, err := tx.Query(ctx, queryRange,
			window.From.UTC(), window.To.UTC(), filter.KindStrings(), name, location)
		if err != nil {
			yield(events.Event{}, events.StoreError(ctx, "query range", err))
			return
		}
		yieldRows(ctx, "query range", rows, yield)
	}
}

func (s *Store) TailSince(ctx context.Context, afterID int64, limit int) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		var lim *int
		if limit > 0 {
			lim = &limit
		}
		rows, err := s.pool.Query(ctx, tailSince, afterID, lim)
		if err != nil {
			yield(events.Event{}, events.StoreError(ctx, "tail", err))
			return
		}
		yieldRows(ctx, "tail", rows, yield)
	}
}

func (s *Store) LatestID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, latestID).Scan(&id); err != nil {
		return 0, events.StoreError(ctx, "latest id", err)
	}
	return id, nil
}

func (s *Store) Agents(ctx context.Context) ([]events.AgentID, error) {
	rows, err := s.pool.Query(ctx, distinctAgents)
	if err != nil {
		return nil, events.StoreError(ctx, "agents", err)
	}
	agents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (events.AgentID, error) {
		var a events.AgentID
		err := row.Scan(&a.Name, &a.Location)
		return a, err
	})
	if err != nil {
		return nil, events.StoreError(ctx, "agents", err)
	}
	return agents, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return events.StoreError(ctx, "ping", err)
	}
	return nil
}

func yieldRows(ctx context.Context, op string, rows pgx.Rows, yield func(events.Event, error) bool) {
	defer rows.Close()
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			yield(events.Event{}, events.StoreError(ctx, op, err))
			return
		}
		if !yield(ev, nil) {
			return
		}
	}
	if err := rows.Err(); err != nil {
		yield(events.Event{}, events.StoreError(ctx, op, err))
	}
}

func scanEvent(row pgx.Row) (events.Event, error) {
	var (
		ev      events.Event
		kind    string
		payload []byte
	)
	if err := row.Scan(&ev.ID, &ev.Timestamp, &kind, &ev.Agent.Name, &ev.Agent.Location, &payload); err != nil {
		return events.Event{}, err
	}
	ev.Kind = events.Kind(kind)
	ev.Timestamp = ev.Timestamp.UTC()
	if err := events.DecodePayload(&ev, payload); err != nil {
		return events.Event{}, err
	}
	return ev, nil
}
