package events

import (
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindConnect       Kind = "connect"
	KindDisconnect    Kind = "disconnect"
	KindAuthenticated Kind = "authenticated"
	KindSystemStats   Kind = "system_stats"
	KindHeartbeat     Kind = "heartbeat"
)

var allKinds = []Kind{KindConnect, KindDisconnect, KindAuthenticated, KindSystemStats, KindHeartbeat}

// AllKinds returns every event kind in declaration order.
func AllKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown event kind %q", ErrValidation, s)
}

// IsConnection reports whether the kind carries a ConnectionPayload.
func (k Kind) IsConnection() bool {
	return k == KindConnect || k == KindDisconnect || k == KindAuthenticated
}

// CompareAgents is a cmp function for slices.SortFunc over agents.
func CompareAgents(a, b AgentID) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

// AgentID identifies a fleet member. Agents are never registered; they exist
// because events mention them.
type AgentID struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

func (a AgentID) String() string {
	return a.Name + "@" + a.Location
}

// Less orders agents by name, then location.
func (a AgentID) Less(b AgentID) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Location < b.Location
}

type ConnectionPayload struct {
	ClientAddress string `json:"client_address,omitempty"`
	ClientPort    int    `json:"client_port,omitempty"`
	Username      string `json:"username,omitempty"`
}

type StatsPayload struct {
	CPUPercent    float64           `json:"cpu_percent"`
	MemoryPercent float64           `json:"memory_percent"`
	DiskPercent   float64           `json:"disk_percent"`
	Interfaces    map[string]string `json:"interfaces,omitempty"`
}

// HeartbeatPayload fields are optional: an agent may omit any of them on a
// given beat.
type HeartbeatPayload struct {
	PublicAddress  *string `json:"public_address,omitempty"`
	UptimeSeconds  *int64  `json:"uptime_seconds,omitempty"`
	StoreReachable *bool   `json:"store_reachable,omitempty"`
}

// Event is an immutable telemetry record. ID is assigned by the store on
// append and increases with arrival order.
type Event struct {
	ID         int64              `json:"id"`
	Timestamp  time.Time          `json:"timestamp"`
	Kind       Kind               `json:"kind"`
	Agent      AgentID            `json:"agent"`
	Connection *ConnectionPayload `json:"connection,omitempty"`
	Stats      *StatsPayload      `json:"stats,omitempty"`
	Heartbeat  *HeartbeatPayload  `json:"heartbeat,omitempty"`
}

// Before orders events by timestamp, ties broken by arrival.
func (e Event) Before(o Event) bool {
	if !e.Timestamp.Equal(o.Timestamp) {
		return e.Timestamp.Before(o.Timestamp)
	}
	return e.ID < o.ID
}

// Compare is a cmp function ordering events by timestamp, then arrival.
func Compare(a, b Event) int {
	switch {
	case a.Before(b):
		return -1
	case b.Before(a):
		return 1
	}
	return 0
}

// Username returns the connection username, or "" when the event has none.
func (e Event) Username() string {
	if e.Connection == nil {
		return ""
	}
	return e.Connection.Username
}

func (e Event) ClientAddress() string {
	if e.Connection == nil {
		return ""
	}
	return e.Connection.ClientAddress
}
