// Package sqlite is a single-file event store for small deployments and
// development. SQLite serialises writers, so IDs become visible in order.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"math"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/EternisAI/fleetwatch/internal/events"
)

const selectColumns = `id, ts, kind, agent_name, agent_location, payload`

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			kind TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			agent_location TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '{}',
			received_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts_id ON events(ts, id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_ts_id ON events(kind, ts, id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_name, agent_location);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, ev events.Event) (int64, error) {
	payload, err := events.EncodePayload(ev)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (ts, kind, agent_name, agent_location, payload, received_at) VALUES (?, ?, ?, ?, ?, ?)`,
		unixNanos(ev.Timestamp), string(ev.Kind), ev.Agent.Name, ev.Agent.Location, string(payload), time.Now().UnixNano(),
	)
	if err != nil {
		return 0, events.StoreError(ctx, "append", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, events.StoreError(ctx, "append", err)
	}
	return id, nil
}

// QueryRange reads inside a read transaction; under WAL that pins one
// snapshot for the whole sequence.
func (s *Store) QueryRange(ctx context.Context, filter events.Filter, window events.Window) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			yield(events.Event{}, events.StoreError(ctx, "query range", err))
			return
		}
		defer tx.Rollback()

		var (
			where strings.Builder
			args  = []any{unixNanos(window.From), unixNanos(window.To)}
		)
		where.WriteString(`ts >= ? AND ts < ?`)
		if len(filter.Kinds) > 0 {
			where.WriteString(` AND kind IN (?` + strings.Repeat(`, ?`, len(filter.Kinds)-1) + `)`)
			for _, k := range filter.Kinds {
				args = append(args, string(k))
			}
		}
		if filter.Agent != nil {
			where.WriteString(` AND agent_name = ? AND agent_location = ?`)
			args = append(args, filter.Agent.Name, filter.Agent.Location)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT `+selectColumns+` FROM events WHERE `+where.String()+` ORDER BY ts, id`, args...)
		if err != nil {
			yield(events.Event{}, events.StoreError(ctx, "query range", err))
			return
		}
		yieldRows(ctx, "query range", rows, yield)
	}
}

func (s *Store) TailSince(ctx context.Context, afterID int64, limit int) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		if limit <= 0 {
			limit = -1 // no limit
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+selectColumns+` FROM events WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
		if err != nil {
			yield(events.Event{}, events.StoreError(ctx, "tail", err))
			return
		}
		yieldRows(ctx, "tail", rows, yield)
	}
}

func (s *Store) LatestID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`).Scan(&id); err != nil {
		return 0, events.StoreError(ctx, "latest id", err)
	}
	return id, nil
}

func (s *Store) Agents(ctx context.Context) ([]events.AgentID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT agent_name, agent_location FROM events ORDER BY agent_name, agent_location`)
	if err != nil {
		return nil, events.StoreError(ctx, "agents", err)
	}
	defer rows.Close()

	var out []events.AgentID
	for rows.Next() {
		var a events.AgentID
		if err := rows.Scan(&a.Name, &a.Location); err != nil {
			return nil, events.StoreError(ctx, "agents", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, events.StoreError(ctx, "agents", err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return events.StoreError(ctx, "ping", err)
	}
	return nil
}

// unixNanos clamps t to the range an INTEGER column of nanoseconds can hold,
// so windows reaching past it still bound every stored event.
func unixNanos(t time.Time) int64 {
	switch {
	case t.Before(events.MinTimestamp):
		return math.MinInt64
	case t.After(events.MaxTimestamp):
		return math.MaxInt64
	}
	return t.UnixNano()
}

func yieldRows(ctx context.Context, op string, rows *sql.Rows, yield func(events.Event, error) bool) {
	defer rows.Close()
	for rows.Next() {
		var (
			ev      events.Event
			ts      int64
			kind    string
			payload string
		)
		if err := rows.Scan(&ev.ID, &ts, &kind, &ev.Agent.Name, &ev.Agent.Location, &payload); err != nil {
			yield(events.Event{}, events.StoreError(ctx, op, err))
			return
		}
		ev.Timestamp = time.Unix(0, ts).UTC()
		ev.Kind = events.Kind(kind)
		if err := events.DecodePayload(&ev, []byte(payload)); err != nil {
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
