package systemtest

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/fleetwatch/internal/agents"
	"github.com/EternisAI/fleetwatch/internal/analytics"
	internalhttp "github.com/EternisAI/fleetwatch/internal/api/http"
	"github.com/EternisAI/fleetwatch/internal/auth"
	"github.com/EternisAI/fleetwatch/internal/clock"
	"github.com/EternisAI/fleetwatch/internal/connectivity"
	"github.com/EternisAI/fleetwatch/internal/db"
	"github.com/EternisAI/fleetwatch/internal/feed"
	"github.com/EternisAI/fleetwatch/internal/ingest"
	"github.com/EternisAI/fleetwatch/internal/metrics"
	storepg "github.com/EternisAI/fleetwatch/internal/store/postgres"
	"github.com/EternisAI/fleetwatch/systemtest/postgres"
	"github.com/EternisAI/fleetwatch/systemtest/redis"
	"github.com/EternisAI/fleetwatch/systemtest/tests"
)

const (
	adminKey  = "system-admin-key"
	ingestKey = "system-ingest-key"
	jwtSecret = "system-jwt-secret"
)

func TestSystemIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("system tests need Docker")
	}
	ctx := context.Background()

	container, err := postgres.StartPostgres(ctx, "fleetwatch", "fleetwatch", "fleetwatch")
	require.NoError(t, err)
	t.Cleanup(func() { _ = postgres.TerminatePostgres(ctx, container) })

	cfg, err := postgres.DBConfig(ctx, container, "fleetwatch")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(ctx, cfg))
	// A second run must be a no-op.
	require.NoError(t, db.RunMigrations(ctx, cfg))

	pool, err := db.InitDB(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	t.Run("EventStore", func(t *testing.T) { tests.TestEventStore(t, pool) })

	t.Run("HTTP", func(t *testing.T) {
		tests.ResetEvents(t, pool)
		engine := newRouter(storepg.New(pool))
		token := tests.IssueToken(t, engine, adminKey, jwtSecret)
		tests.TestFleetAPI(t, engine, ingestKey, token)
	})

	t.Run("Notifier", func(t *testing.T) {
		rc, addr, err := redis.StartRedis(ctx)
		require.NoError(t, err)
		t.Cleanup(func() { _ = redis.TerminateRedis(ctx, rc) })
		tests.TestNotifier(t, addr)
	})
}

func newRouter(store *storepg.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	clk := clock.Real()
	m := metrics.New()
	dist := feed.New(store, feed.Config{}, clk, m)
	conn := connectivity.NewEngine(store, connectivity.DefaultPolicy(), clk)

	engine := gin.New()
	internalhttp.SetupRoute(engine, internalhttp.Config{
		QueryTimeout: 10 * time.Second,
		AdminAPIKey:  adminKey,
		IngestAPIKey: ingestKey,
	}, &internalhttp.Services{
		Store:        store,
		Clock:        clk,
		Agents:       agents.NewService(store, conn, clk, 0),
		Connectivity: conn,
		Analytics:    analytics.NewEngine(store, 0),
		Feed:         dist,
		Ingest:       ingest.NewService(store, m, dist, nil),
		Auth:         auth.NewService(auth.JWTConfig{Secret: jwtSecret}, clk),
		Metrics:      m,
	})
	return engine
}
