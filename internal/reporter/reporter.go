// Package reporter runs on each VPN host and publishes heartbeat and
// system_stats events to the fleetwatch server.
package reporter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/EternisAI/fleetwatch/internal/agents"
	"github.com/EternisAI/fleetwatch/internal/clock"
	"github.com/EternisAI/fleetwatch/internal/events"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultStatsInterval     = time.Minute
	collectTimeout           = 5 * time.Second
)

// Sender queues events for delivery. The gRPC client implements it.
type Sender interface {
	Send(ev events.Event) error
	Reachable() bool
}

type Config struct {
	Agent             events.AgentID
	PublicAddress     string
	HeartbeatInterval time.Duration
	StatsInterval     time.Duration
}

type Reporter struct {
	cfg       Config
	sender    Sender
	collector Collector
	clock     clock.Clock

	// lastInterfaces feeds the public address fallback when none is
	// configured.
	lastInterfaces map[string]string
}

func New(cfg Config, sender Sender, collector Collector, clk clock.Clock) *Reporter {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Reporter{
		cfg:       cfg,
		sender:    sender,
		collector: collector,
		clock:     clk,
	}
}

// Run reports immediately, then on every interval until ctx ends.
func (r *Reporter) Run(ctx context.Context) error {
	if r.cfg.Agent.Name == "" {
		return errors.New("agent name is required")
	}
	slog.Info("Starting reporter",
		"agent", r.cfg.Agent.String(),
		"heartbeat_interval", r.cfg.HeartbeatInterval,
		"stats_interval", r.cfg.StatsInterval,
	)

	r.reportStats(ctx)
	r.reportHeartbeat(ctx)

	heartbeat := time.NewTicker(r.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	stats := time.NewTicker(r.cfg.StatsInterval)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Reporter stopped", "agent", r.cfg.Agent.String())
			return nil
		case <-heartbeat.C:
			r.reportHeartbeat(ctx)
		case <-stats.C:
			r.reportStats(ctx)
		}
	}
}

func (r *Reporter) reportHeartbeat(ctx context.Context) {
	ev, err := r.Heartbeat(ctx)
	if err != nil {
		slog.Warn("Failed to collect heartbeat", "error", err)
	}
	r.send(ev)
}

func (r *Reporter) reportStats(ctx context.Context) {
	ev, err := r.Stats(ctx)
	if err != nil {
		slog.Warn("Failed to collect system stats", "error", err)
		return
	}
	r.send(ev)
}

func (r *Reporter) send(ev events.Event) {
	if err := r.sender.Send(ev); err != nil {
		slog.Warn("Dropping event", "kind", ev.Kind, "error", err)
	}
}

// Heartbeat builds a heartbeat event. A failed uptime read still yields a
// usable heartbeat with the uptime omitted.
func (r *Reporter) Heartbeat(ctx context.Context) (events.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	reachable := r.sender.Reachable()
	hb := &events.HeartbeatPayload{StoreReachable: &reachable}

	if addr := r.publicAddress(); addr != "" {
		hb.PublicAddress = &addr
	}

	up, err := r.collector.Uptime(ctx)
	if err == nil {
		hb.UptimeSeconds = &up
	}

	return events.Event{
		Timestamp: r.clock.Now(),
		Kind:      events.KindHeartbeat,
		Agent:     r.cfg.Agent,
		Heartbeat: hb,
	}, err
}

func (r *Reporter) Stats(ctx context.Context) (events.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	stats, err := r.collector.Stats(ctx)
	if err != nil {
		return events.Event{}, err
	}
	r.lastInterfaces = stats.Interfaces

	return events.Event{
		Timestamp: r.clock.Now(),
		Kind:      events.KindSystemStats,
		Agent:     r.cfg.Agent,
		Stats:     &stats,
	}, nil
}

func (r *Reporter) publicAddress() string {
	if r.cfg.PublicAddress != "" {
		return r.cfg.PublicAddress
	}
	return agents.PublicAddressFromInterfaces(r.lastInterfaces)
}
