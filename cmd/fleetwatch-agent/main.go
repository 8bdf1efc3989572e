package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/EternisAI/fleetwatch/internal/clock"
	"github.com/EternisAI/fleetwatch/internal/events"
	grpcclient "github.com/EternisAI/fleetwatch/internal/grpc/client"
	"github.com/EternisAI/fleetwatch/internal/reporter"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Fleetwatch Agent", "version", AppVersion)

	if config.Agent.Name == "" {
		if host, err := os.Hostname(); err == nil {
			config.Agent.Name = host
		}
	}

	grpcClient := grpcclient.NewClient(config.Grpc.ServerAddress, config.Grpc.APIKey, &config.Grpc.TLS)
	if err := grpcClient.Start(); err != nil {
		slog.Error("Failed to start gRPC client", "error", err)
		os.Exit(1)
	}

	rep := reporter.New(reporter.Config{
		Agent:             events.AgentID{Name: config.Agent.Name, Location: config.Agent.Location},
		PublicAddress:     config.Agent.PublicAddress,
		HeartbeatInterval: config.Agent.HeartbeatInterval,
		StatsInterval:     config.Agent.StatsInterval,
	}, grpcClient, reporter.HostCollector{DiskPath: config.Agent.DiskPath}, clock.Real())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rep.Run(ctx); err != nil {
		slog.Error("Reporter failed", "error", err)
	}

	slog.Info("Shutting down...")
	if err := grpcClient.Stop(); err != nil {
		slog.Error("gRPC client stop error", "error", err)
	}
	slog.Info("Shutdown complete")
}
