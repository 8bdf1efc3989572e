package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/EternisAI/fleetwatch/internal/clock"
	"github.com/EternisAI/fleetwatch/internal/connectivity"
	"github.com/EternisAI/fleetwatch/internal/events"
)

var (
	ErrAgentNotFound  = errors.New("agent not found")
	ErrAmbiguousAgent = errors.New("agent name matches several locations")
)

const (
	DefaultActiveWindow      = 5 * time.Minute
	DefaultConnectionsWindow = 24 * time.Hour
	DefaultConnectionsLimit  = 100
)

// interfacePriority lists the NICs that carry the public address on the
// fleet's images, best first.
var interfacePriority = []string{"ens4", "enp1s0", "ens3"}

type Service struct {
	store        events.Store
	connectivity *connectivity.Engine
	clock        clock.Clock
	activeWindow time.Duration
}

func NewService(store events.Store, engine *connectivity.Engine, clk clock.Clock, activeWindow time.Duration) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if activeWindow <= 0 {
		activeWindow = DefaultActiveWindow
	}
	return &Service{
		store:        store,
		connectivity: engine,
		clock:        clk,
		activeWindow: activeWindow,
	}
}

// latest is the newest non-heartbeat activity of one agent.
type latest struct {
	connection *events.Event
	stats      *events.Event
	active     int64
}

func (l *latest) observe(ev events.Event, activeFrom time.Time) {
	switch {
	case ev.Kind.IsConnection():
		e := ev
		l.connection = &e
		if ev.Kind == events.KindAuthenticated && !ev.Timestamp.Before(activeFrom) {
			l.active++
		}
	case ev.Kind == events.KindSystemStats:
		e := ev
		l.stats = &e
	}
}

// List returns every known agent ordered by name, then location.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	now := s.clock.Now()
	statuses, err := s.connectivity.Status(ctx, &now)
	if err != nil {
		return nil, err
	}

	filter := events.Filter{Kinds: []events.Kind{
		events.KindConnect, events.KindDisconnect, events.KindAuthenticated, events.KindSystemStats,
	}}
	byAgent := make(map[events.AgentID]*latest)
	// QueryRange yields in timestamp order, so the last value seen wins.
	for ev, err := range s.store.QueryRange(ctx, filter, events.Until(now.Add(time.Nanosecond))) {
		if err != nil {
			return nil, err
		}
		l, ok := byAgent[ev.Agent]
		if !ok {
			l = &latest{}
			byAgent[ev.Agent] = l
		}
		l.observe(ev, now.Add(-s.activeWindow))
	}
	if err := events.ContextError(ctx); err != nil {
		return nil, err
	}

	threshold := s.connectivity.Policy().Threshold()
	out := make([]Summary, 0, len(statuses))
	for _, st := range statuses {
		l := byAgent[st.Agent]
		if l == nil {
			l = &latest{}
		}
		out = append(out, summarize(st, l, now, threshold))
	}
	slog.Debug("Agent inventory built", "agents", len(out))
	return out, nil
}

// Detail reports one agent. An empty location resolves the agent by name
// alone when that name is unique in the fleet.
func (s *Service) Detail(ctx context.Context, name, location string) (*Detail, error) {
	agent, err := s.Resolve(ctx, name, location)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	statuses, err := s.connectivity.Status(ctx, &now)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(statuses, func(st connectivity.Status) bool { return st.Agent == agent })
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agent)
	}

	l := &latest{}
	filter := events.Filter{Agent: &agent}
	for ev, err := range s.store.QueryRange(ctx, filter, events.Until(now.Add(time.Nanosecond))) {
		if err != nil {
			return nil, err
		}
		l.observe(ev, now.Add(-s.activeWindow))
	}
	if err := events.ContextError(ctx); err != nil {
		return nil, err
	}

	return &Detail{
		Summary:           summarize(statuses[idx], l, now, s.connectivity.Policy().Threshold()),
		ActiveConnections: l.active,
		ActiveWindow:      s.activeWindow,
		LastConnection:    l.connection,
	}, nil
}

// RecentConnections lists authenticated sessions since the given instant,
// newest first, at most limit of them.
func (s *Service) RecentConnections(ctx context.Context, name, location string, since time.Time, limit int) ([]Connection, error) {
	agent, err := s.Resolve(ctx, name, location)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultConnectionsLimit
	}

	now := s.clock.Now()
	if since.IsZero() {
		since = now.Add(-DefaultConnectionsWindow)
	}
	window := events.Window{From: since, To: now.Add(time.Nanosecond)}
	if err := window.Validate(0); err != nil {
		return nil, err
	}

	filter := events.Filter{Kinds: []events.Kind{events.KindAuthenticated}, Agent: &agent}
	var out []Connection
	for ev, err := range s.store.QueryRange(ctx, filter, window) {
		if err != nil {
			return nil, err
		}
		c := Connection{EventID: ev.ID, Timestamp: ev.Timestamp}
		if ev.Connection != nil {
			c.Username = ev.Connection.Username
			c.ClientAddress = ev.Connection.ClientAddress
			c.ClientPort = ev.Connection.ClientPort
		}
		out = append(out, c)
	}
	if err := events.ContextError(ctx); err != nil {
		return nil, err
	}

	slices.Reverse(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Resolve finds the agent with the given name and, when set, location.
func (s *Service) Resolve(ctx context.Context, name, location string) (events.AgentID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return events.AgentID{}, fmt.Errorf("%w: agent name is required", events.ErrValidation)
	}

	known, err := s.store.Agents(ctx)
	if err != nil {
		return events.AgentID{}, err
	}

	var matches []events.AgentID
	for _, a := range known {
		if a.Name == name && (location == "" || a.Location == location) {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 0:
		if location != "" {
			return events.AgentID{}, fmt.Errorf("%w: %s@%s", ErrAgentNotFound, name, location)
		}
		return events.AgentID{}, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	case 1:
		return matches[0], nil
	default:
		return events.AgentID{}, fmt.Errorf("%w: %s (%d locations)", ErrAmbiguousAgent, name, len(matches))
	}
}

func summarize(st connectivity.Status, l *latest, now time.Time, threshold time.Duration) Summary {
	sum := Summary{
		Agent:           st.Agent,
		IsLive:          st.IsLive,
		LastHeartbeatAt: st.LastHeartbeatAt,
		PublicAddress:   st.ReportedAddress,
		UptimeSeconds:   st.ReportedUptimeSeconds,
		StoreReachable:  st.StoreReachable,
	}
	if l.connection != nil {
		ts := l.connection.Timestamp
		sum.LastSeenAt = &ts
	}
	if l.stats != nil {
		ts := l.stats.Timestamp
		sum.Stats = l.stats.Stats
		sum.StatsAt = &ts
		if sum.PublicAddress == nil && l.stats.Stats != nil {
			if addr := PublicAddressFromInterfaces(l.stats.Stats.Interfaces); addr != "" {
				sum.PublicAddress = &addr
			}
		}
	}
	sum.Status = classify(st, sum.LastSeenAt, now, threshold)
	return sum
}

// classify prefers heartbeat liveness. Agents that never sent a heartbeat
// are judged by their latest connection event against the same threshold.
func classify(st connectivity.Status, lastSeen *time.Time, now time.Time, threshold time.Duration) string {
	switch {
	case st.Seen() && st.IsLive:
		return StatusOnline
	case st.Seen():
		return StatusOffline
	case lastSeen == nil:
		return StatusUnknown
	case now.Sub(*lastSeen) < threshold:
		return StatusOnline
	default:
		return StatusOffline
	}
}

// PublicAddressFromInterfaces picks the public address from an interface
// table (name to address). Preferred NICs win; otherwise the first name in
// sorted order that is neither loopback nor a tunnel.
func PublicAddressFromInterfaces(interfaces map[string]string) string {
	for _, name := range interfacePriority {
		if addr := interfaces[name]; addr != "" {
			return addr
		}
	}

	names := make([]string, 0, len(interfaces))
	for name := range interfaces {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if name == "lo" || strings.HasPrefix(name, "tun") || interfaces[name] == "" {
			continue
		}
		return interfaces[name]
	}
	return ""
}
