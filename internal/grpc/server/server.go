package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/EternisAI/fleetwatch/internal/auth"
	"github.com/EternisAI/fleetwatch/internal/feed"
	"github.com/EternisAI/fleetwatch/internal/grpc/wire"
	"github.com/EternisAI/fleetwatch/internal/ingest"
)

type Config struct {
	Port         int
	IngestAPIKey string
	// ValidateToken checks Watch bearer tokens, usually
	// (*auth.Service).Validate. Nil leaves Watch open.
	ValidateToken func(token string) (*auth.Claims, error)
	Credentials   credentials.TransportCredentials
}

type Server struct {
	grpcServer    *grpc.Server
	health        *health.Server
	streamHandler *StreamHandler
	port          int
	listener      net.Listener
}

func NewServer(cfg Config, ingestService *ingest.Service, dist *feed.Distributor) *Server {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(apiKeyInterceptor(cfg.IngestAPIKey)),
		grpc.ChainStreamInterceptor(bearerTokenInterceptor(cfg.ValidateToken)),
	}
	if cfg.Credentials != nil {
		opts = append(opts, grpc.Creds(cfg.Credentials))
	}

	s := &Server{
		grpcServer:    grpc.NewServer(opts...),
		health:        health.NewServer(),
		streamHandler: NewStreamHandler(ingestService, dist),
		port:          cfg.Port,
	}
	wire.RegisterTelemetryServer(s.grpcServer, s.streamHandler)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(wire.ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Start listens on the configured port and serves until Stop.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener.
func (s *Server) Serve(lis net.Listener) error {
	s.listener = lis
	slog.Info("Starting gRPC server", "address", lis.Addr().String())

	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping gRPC server")
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		slog.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		slog.Warn("gRPC server stop timeout, forcing shutdown")
		s.grpcServer.Stop()
	}
	return nil
}

func (s *Server) StopWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(ctx)
}
