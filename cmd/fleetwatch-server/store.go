package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/EternisAI/fleetwatch/internal/db"
	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/store/memory"
	"github.com/EternisAI/fleetwatch/internal/store/postgres"
	"github.com/EternisAI/fleetwatch/internal/store/sqlite"
)

// openStore opens the configured event store. The returned func releases it.
func openStore(ctx context.Context, cfg StoreConfig) (events.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		if err := db.RunMigrations(ctx, cfg.DB()); err != nil {
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		pool, err := db.InitDB(ctx, cfg.DB())
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil

	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.SqlitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using SQLite event store", "path", cfg.SqlitePath)
		return st, func() {
			if err := st.Close(); err != nil {
				slog.Error("Failed to close SQLite store", "error", err)
			}
		}, nil

	case "memory":
		slog.Warn("Using in-memory event store, events are lost on restart")
		return memory.New(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q (valid: postgres, sqlite, memory)", cfg.Driver)
}
