package connectivity

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/EternisAI/fleetwatch/internal/clock"
	"github.com/EternisAI/fleetwatch/internal/events"
)

const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Policy holds the liveness parameters. An agent is live while its newest
// heartbeat is younger than HeartbeatInterval*MissedBeats, so with the default
// of two one late beat is tolerated and two consecutive misses are not.
type Policy struct {
	HeartbeatInterval time.Duration
	MissedBeats       int
	// SkewTolerance admits heartbeats stamped slightly after the evaluation
	// instant, for agents whose clocks run ahead.
	SkewTolerance time.Duration
	// SevereAfter is the staleness beyond which an alert is raised as high.
	SevereAfter time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		HeartbeatInterval: 5 * time.Minute,
		MissedBeats:       2,
		SevereAfter:       30 * time.Minute,
	}
}

func (p Policy) Threshold() time.Duration {
	return p.HeartbeatInterval * time.Duration(p.MissedBeats)
}

func (p Policy) Validate() error {
	if p.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive", events.ErrValidation)
	}
	if p.MissedBeats < 1 {
		return fmt.Errorf("%w: missed beats must be at least 1", events.ErrValidation)
	}
	if p.SkewTolerance < 0 {
		return fmt.Errorf("%w: skew tolerance must not be negative", events.ErrValidation)
	}
	return nil
}

// Status is the liveness of one agent at an instant. Nil pointers mean the
// value was never reported.
type Status struct {
	Agent                 events.AgentID
	LastHeartbeatAt       *time.Time
	ReportedUptimeSeconds *int64
	ReportedAddress       *string
	StoreReachable        *bool
	SinceLastHeartbeat    *time.Duration
	IsLive                bool
}

// Seen reports whether the agent ever sent a heartbeat before the instant.
func (s Status) Seen() bool { return s.LastHeartbeatAt != nil }

type Alert struct {
	Agent              events.AgentID
	Severity           string
	Message            string
	LastHeartbeatAt    time.Time
	SinceLastHeartbeat time.Duration
}

type Engine struct {
	store  events.Store
	policy Policy
	clock  clock.Clock
}

func NewEngine(store events.Store, policy Policy, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	return &Engine{
		store:  store,
		policy: policy,
		clock:  clk,
	}
}

func (e *Engine) Policy() Policy { return e.policy }

// Status derives the liveness of every known agent at asOf (now when nil).
// Store failures are returned as-is; they are never reported as offline
// agents.
func (e *Engine) Status(ctx context.Context, asOf *time.Time) ([]Status, error) {
	at := e.clock.Now()
	if asOf != nil {
		at = asOf.UTC()
	}

	agents, err := e.store.Agents(ctx)
	if err != nil {
		return nil, err
	}

	// Window end is exclusive; widen by one tick so a beat stamped exactly at
	// the evaluation instant counts.
	window := events.Until(at.Add(e.policy.SkewTolerance + time.Nanosecond))
	heartbeats := e.store.QueryRange(ctx, events.Filter{Kinds: []events.Kind{events.KindHeartbeat}}, window)

	statuses, err := Derive(agents, heartbeats, at, e.policy)
	if err != nil {
		return nil, err
	}
	if err := events.ContextError(ctx); err != nil {
		return nil, err
	}

	slog.Debug("Connectivity derived", "agents", len(statuses), "as_of", at)
	return statuses, nil
}

// Alerts lists agents that have sent heartbeats but are no longer live.
func (e *Engine) Alerts(ctx context.Context, asOf *time.Time) ([]Alert, error) {
	statuses, err := e.Status(ctx, asOf)
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	for _, s := range statuses {
		if s.IsLive || !s.Seen() {
			continue
		}
		severity := SeverityMedium
		if e.policy.SevereAfter > 0 && *s.SinceLastHeartbeat > e.policy.SevereAfter {
			severity = SeverityHigh
		}
		alerts = append(alerts, Alert{
			Agent:              s.Agent,
			Severity:           severity,
			Message:            fmt.Sprintf("Agent %s lost connectivity", s.Agent),
			LastHeartbeatAt:    *s.LastHeartbeatAt,
			SinceLastHeartbeat: *s.SinceLastHeartbeat,
		})
	}
	return alerts, nil
}

// Derive folds heartbeats (ordered by timestamp then arrival) into one Status
// per agent. Agents without heartbeats are reported as not live with nil
// fields. Heartbeats stamped after asOf+SkewTolerance are ignored.
//
// Each reported field is carried forward independently: a beat that omits
// the public address keeps the last address seen rather than clearing it.
// That treats "omitted" as "unchanged", which is a policy choice worth
// revisiting if agents start omitting fields to signal loss.
func Derive(agents []events.AgentID, heartbeats iter.Seq2[events.Event, error], asOf time.Time, policy Policy) ([]Status, error) {
	byAgent := make(map[events.AgentID]*Status, len(agents))
	for _, a := range agents {
		byAgent[a] = &Status{Agent: a}
	}

	limit := asOf.Add(policy.SkewTolerance)
	for ev, err := range heartbeats {
		if err != nil {
			return nil, err
		}
		if ev.Kind != events.KindHeartbeat || ev.Timestamp.After(limit) {
			continue
		}

		s, ok := byAgent[ev.Agent]
		if !ok {
			s = &Status{Agent: ev.Agent}
			byAgent[ev.Agent] = s
		}

		ts := ev.Timestamp
		if s.LastHeartbeatAt == nil || !ts.Before(*s.LastHeartbeatAt) {
			s.LastHeartbeatAt = &ts
		}
		if hb := ev.Heartbeat; hb != nil {
			if hb.PublicAddress != nil {
				s.ReportedAddress = hb.PublicAddress
			}
			if hb.UptimeSeconds != nil {
				s.ReportedUptimeSeconds = hb.UptimeSeconds
			}
			if hb.StoreReachable != nil {
				s.StoreReachable = hb.StoreReachable
			}
		}
	}

	threshold := policy.Threshold()
	out := make([]Status, 0, len(byAgent))
	for _, s := range byAgent {
		if s.LastHeartbeatAt != nil {
			since := max(asOf.Sub(*s.LastHeartbeatAt), 0)
			s.SinceLastHeartbeat = &since
			s.IsLive = since < threshold
		}
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b Status) int { return events.CompareAgents(a.Agent, b.Agent) })
	return out, nil
}
