package tests

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/store/postgres"
	"github.com/EternisAI/fleetwatch/internal/store/storetest"
)

// ResetEvents empties the events table and restarts its ID sequence.
func ResetEvents(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `TRUNCATE events RESTART IDENTITY`)
	require.NoError(t, err)
}

func TestEventStore(t *testing.T, pool *pgxpool.Pool) {
	storetest.Run(t, func(t *testing.T) events.Store {
		ResetEvents(t, pool)
		return postgres.New(pool)
	})
}
