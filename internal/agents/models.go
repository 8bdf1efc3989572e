package agents

import (
	"time"

	"github.com/EternisAI/fleetwatch/internal/events"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusUnknown = "unknown"
)

// Summary is one row of the fleet inventory.
type Summary struct {
	Agent           events.AgentID
	Status          string
	IsLive          bool
	LastHeartbeatAt *time.Time
	LastSeenAt      *time.Time // latest connection event
	PublicAddress   *string
	UptimeSeconds   *int64
	StoreReachable  *bool
	Stats           *events.StatsPayload
	StatsAt         *time.Time
}

// Detail extends Summary with figures only computed for a single agent.
type Detail struct {
	Summary
	ActiveConnections int64
	ActiveWindow      time.Duration
	LastConnection    *events.Event
}

type Connection struct {
	EventID       int64
	Timestamp     time.Time
	Username      string
	ClientAddress string
	ClientPort    int
}
