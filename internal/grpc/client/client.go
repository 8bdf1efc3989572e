// Package client is the reporter side of the Telemetry service: a publisher
// that keeps one connection to the server alive and drains a local queue of
// events into it.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/EternisAI/fleetwatch/internal/events"
	grpctls "github.com/EternisAI/fleetwatch/internal/grpc/tls"
	"github.com/EternisAI/fleetwatch/internal/grpc/wire"
)

const (
	sendChannelBuffer = 100
	pingInterval      = 30 * time.Second
	callTimeout       = 10 * time.Second
	initialDelay      = 1 * time.Second
	maxDelay          = 30 * time.Second
	backoffFactor     = 2
)

var ErrQueueFull = errors.New("send channel full")

type Client struct {
	serverAddr string
	apiKey     string
	tlsConfig  *TLSConfig
	conn       *grpc.ClientConn

	sendCh chan events.Event
	stopCh chan struct{}
	doneCh chan struct{}

	// pending holds an event whose publish failed on a broken connection so
	// it is retried first after reconnecting. Only the send loop touches it.
	pending *events.Event

	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration

	// reachable reports whether the last publish reached the server.
	reachable atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	ServerNameOverride string `mapstructure:"server_name_override"`
}

func NewClient(serverAddr, apiKey string, tlsConfig *TLSConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		serverAddr:        serverAddr,
		apiKey:            apiKey,
		tlsConfig:         tlsConfig,
		sendCh:            make(chan events.Event, sendChannelBuffer),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
		reconnectDelay:    initialDelay,
		maxReconnectDelay: maxDelay,
		ctx:               ctx,
		cancel:            cancel,
	}
}

func (c *Client) Start() error {
	go c.connectionLoop()
	return nil
}

func (c *Client) Stop() error {
	slog.Info("Stopping gRPC client")
	close(c.stopCh)
	c.cancel()
	<-c.doneCh
	slog.Info("gRPC client stopped")
	return nil
}

// Send queues ev for publishing without blocking.
func (c *Client) Send(ev events.Event) error {
	select {
	case c.sendCh <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Reachable reports whether the most recent publish succeeded.
func (c *Client) Reachable() bool {
	return c.reachable.Load()
}

func (c *Client) connectionLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			c.disconnect()
			return
		default:
			if err := c.connect(); err != nil {
				c.reachable.Store(false)
				slog.Error("Connection failed", "error", err, "retry_in", c.reconnectDelay)
				select {
				case <-time.After(c.reconnectDelay):
					c.increaseReconnectDelay()
					continue
				case <-c.stopCh:
					return
				}
			}

			c.reconnectDelay = initialDelay

			if err := c.handleStream(); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Publish stream error", "error", err)
			}
			c.reachable.Store(false)
			c.disconnect()

			select {
			case <-c.stopCh:
				return
			case <-time.After(c.reconnectDelay):
				slog.Info("Reconnecting", "delay", c.reconnectDelay)
				c.increaseReconnectDelay()
			}
		}
	}
}

func (c *Client) connect() error {
	slog.Info("Connecting to server", "address", c.serverAddr)

	var opts []grpc.DialOption

	if c.tlsConfig != nil && c.tlsConfig.Enabled {
		creds, err := grpctls.LoadClientCredentials(
			c.tlsConfig.CertFile,
			c.tlsConfig.KeyFile,
			c.tlsConfig.CAFile,
			c.tlsConfig.ServerNameOverride,
		)
		if err != nil {
			return fmt.Errorf("failed to load TLS credentials: %w", err)
		}

		opts = append(opts, grpc.WithTransportCredentials(creds))
		slog.Info("Using TLS connection")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		slog.Warn("Using insecure connection (TLS disabled)")
	}

	conn, err := grpc.NewClient(c.serverAddr, opts...)
	if err != nil {
		return fmt.Errorf("failed to dial server: %w", err)
	}

	if err := c.checkHealth(conn); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("Connected to server", "address", c.serverAddr)
	return nil
}

func (c *Client) checkHealth(conn *grpc.ClientConn) error {
	ctx, cancel := context.WithTimeout(c.ctx, callTimeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: wire.ServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("server not serving: %s", resp.Status)
	}
	return nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) increaseReconnectDelay() {
	c.reconnectDelay = c.reconnectDelay * backoffFactor
	if c.reconnectDelay > c.maxReconnectDelay {
		c.reconnectDelay = c.maxReconnectDelay
	}
}

func (c *Client) handleStream() error {
	done := make(chan struct{})
	errChan := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Go(func() { c.sendLoop(done, errChan) })
	wg.Go(func() { c.pingLoop(done, errChan) })

	err := <-errChan
	close(done)
	wg.Wait()
	return err
}

func (c *Client) sendLoop(done chan struct{}, errChan chan error) {
	if c.pending != nil {
		ev := *c.pending
		c.pending = nil
		if err := c.publish(ev); err != nil {
			errChan <- err
			return
		}
	}

	for {
		select {
		case <-done:
			return
		case <-c.stopCh:
			errChan <- context.Canceled
			return
		case ev := <-c.sendCh:
			if err := c.publish(ev); err != nil {
				errChan <- err
				return
			}
		}
	}
}

// publish sends one event. Rejected events are dropped; a transport failure
// keeps the event pending and is returned so the connection is rebuilt.
func (c *Client) publish(ev events.Event) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		c.pending = &ev
		return fmt.Errorf("connection is nil")
	}

	ctx, cancel := context.WithTimeout(c.ctx, callTimeout)
	defer cancel()
	if c.apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, wire.APIKeyMetadata, c.apiKey)
	}

	id, err := wire.Publish(ctx, conn, ev)
	switch status.Code(err) {
	case codes.OK:
		c.reachable.Store(true)
		slog.Debug("Event published", "id", id, "kind", ev.Kind)
		return nil
	case codes.InvalidArgument, codes.Unauthenticated:
		c.reachable.Store(true)
		slog.Error("Event rejected by server", "kind", ev.Kind, "error", err)
		return nil
	}
	c.reachable.Store(false)
	c.pending = &ev
	return fmt.Errorf("publish %s: %w", ev.Kind, err)
}

func (c *Client) pingLoop(done chan struct{}, errChan chan error) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				errChan <- fmt.Errorf("connection is nil")
				return
			}
			if err := c.checkHealth(conn); err != nil {
				errChan <- err
				return
			}
			slog.Debug("Health check passed")
		}
	}
}
