package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/EternisAI/fleetwatch/internal/agents"
	"github.com/EternisAI/fleetwatch/internal/analytics"
	internalhttp "github.com/EternisAI/fleetwatch/internal/api/http"
	"github.com/EternisAI/fleetwatch/internal/auth"
	"github.com/EternisAI/fleetwatch/internal/clock"
	"github.com/EternisAI/fleetwatch/internal/connectivity"
	"github.com/EternisAI/fleetwatch/internal/feed"
	grpcserver "github.com/EternisAI/fleetwatch/internal/grpc/server"
	"github.com/EternisAI/fleetwatch/internal/ingest"
	"github.com/EternisAI/fleetwatch/internal/metrics"
	"github.com/EternisAI/fleetwatch/internal/notify"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Fleetwatch Server", "version", AppVersion)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	policy := config.Connectivity.Policy()
	if err := policy.Validate(); err != nil {
		slog.Error("Invalid connectivity policy", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := openStore(ctx, config.Store)
	if err != nil {
		slog.Error("Failed to open event store", "driver", config.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	clk := clock.Real()
	m := metrics.New()
	dist := feed.New(store, config.Feed.Distributor(), clk, m)

	var publisher ingest.Publisher
	if config.Redis.Enabled {
		notifier := notify.New(redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		}), config.Redis.Channel)
		defer notifier.Close()

		if err := notifier.Ping(ctx); err != nil {
			slog.Warn("Redis unreachable, live feed falls back to polling", "addr", config.Redis.Addr, "error", err)
		}
		publisher = notifier

		// Appends on other instances wake our poller early.
		go func() {
			err := notifier.Listen(ctx, func(notify.Message) { dist.Wake() })
			if err != nil && ctx.Err() == nil {
				slog.Error("Redis listener stopped", "error", err)
			}
		}()
	}

	conn := connectivity.NewEngine(store, policy, clk)
	ingestService := ingest.NewService(store, m, dist, publisher)
	authService := auth.NewService(auth.JWTConfig{Secret: config.Auth.JWTSecret, TTL: config.Auth.TokenTTL}, clk)
	if !authService.Enabled() {
		slog.Warn("auth.jwt_secret not set, dashboard API is unauthenticated")
	}

	services := &internalhttp.Services{
		Store:        store,
		Clock:        clk,
		Agents:       agents.NewService(store, conn, clk, agents.DefaultActiveWindow),
		Connectivity: conn,
		Analytics:    analytics.NewEngine(store, config.Analytics.MaxWindow),
		Feed:         dist,
		Ingest:       ingestService,
		Auth:         authService,
		Metrics:      m,
		DefaultTopN:  config.Analytics.DefaultTopN,
	}

	creds, err := config.Grpc.TLS.Credentials()
	if err != nil {
		slog.Error("Failed to load gRPC TLS credentials", "error", err)
		os.Exit(1)
	}
	if creds == nil {
		slog.Warn("gRPC TLS disabled")
	}
	grpcCfg := grpcserver.Config{
		Port:         config.Grpc.Port,
		IngestAPIKey: config.Http.IngestAPIKey,
		Credentials:  creds,
	}
	if authService.Enabled() {
		grpcCfg.ValidateToken = authService.Validate
	}
	grpcSrv := grpcserver.NewServer(grpcCfg, ingestService, dist)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key", "Last-Event-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, config.Http, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 3)
	go func() {
		if err := dist.Run(ctx); err != nil {
			errChan <- fmt.Errorf("live feed error: %w", err)
		}
	}()

	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	go func() {
		if err := grpcSrv.Start(); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down servers...")

	// Closing the live feed first ends SSE and Watch streams so the servers
	// can drain.
	stop()

	var wg sync.WaitGroup
	shutdownTimeout := 10 * time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := grpcSrv.StopWithTimeout(shutdownTimeout); err != nil {
			slog.Error("gRPC server shutdown error", "error", err)
		}
	}()

	wg.Wait()
	slog.Info("Shutdown complete")
}
