package dto

import (
	"time"

	"github.com/EternisAI/fleetwatch/internal/agents"
	"github.com/EternisAI/fleetwatch/internal/events"
)

type StatsResponse struct {
	CPUPercent    float64           `json:"cpu_percent"`
	MemoryPercent float64           `json:"memory_percent"`
	DiskPercent   float64           `json:"disk_percent"`
	Interfaces    map[string]string `json:"interfaces,omitempty"`
	ReportedAt    *time.Time        `json:"reported_at,omitempty"`
}

type AgentResponse struct {
	Name            string         `json:"name"`
	Location        string         `json:"location"`
	Status          string         `json:"status"`
	IsLive          bool           `json:"is_live"`
	LastHeartbeatAt *time.Time     `json:"last_heartbeat_at"`
	LastSeenAt      *time.Time     `json:"last_seen_at"`
	PublicAddress   *string        `json:"public_address"`
	UptimeSeconds   *int64         `json:"uptime_seconds"`
	StoreReachable  *bool          `json:"store_reachable"`
	Stats           *StatsResponse `json:"stats,omitempty"`
}

type ListAgentsResponse struct {
	Agents []AgentResponse `json:"agents"`
	Count  int             `json:"count"`
}

type AgentDetailResponse struct {
	AgentResponse
	ActiveConnections   int64          `json:"active_connections"`
	ActiveWindowSeconds int64          `json:"active_window_seconds"`
	LastConnection      *EventResponse `json:"last_connection,omitempty"`
}

type ConnectionResponse struct {
	EventID       int64     `json:"event_id"`
	Timestamp     time.Time `json:"timestamp"`
	Username      string    `json:"username"`
	ClientAddress string    `json:"client_address,omitempty"`
	ClientPort    int       `json:"client_port,omitempty"`
}

type ListConnectionsResponse struct {
	Agent       string               `json:"agent"`
	Connections []ConnectionResponse `json:"connections"`
	Count       int                  `json:"count"`
}

// EventResponse is the public JSON shape of a stored event.
type EventResponse = events.Event

func NewAgentResponse(s agents.Summary) AgentResponse {
	resp := AgentResponse{
		Name:            s.Agent.Name,
		Location:        s.Agent.Location,
		Status:          s.Status,
		IsLive:          s.IsLive,
		LastHeartbeatAt: s.LastHeartbeatAt,
		LastSeenAt:      s.LastSeenAt,
		PublicAddress:   s.PublicAddress,
		UptimeSeconds:   s.UptimeSeconds,
		StoreReachable:  s.StoreReachable,
	}
	if s.Stats != nil {
		resp.Stats = &StatsResponse{
			CPUPercent:    s.Stats.CPUPercent,
			MemoryPercent: s.Stats.MemoryPercent,
			DiskPercent:   s.Stats.DiskPercent,
			Interfaces:    s.Stats.Interfaces,
			ReportedAt:    s.StatsAt,
		}
	}
	return resp
}

func NewAgentDetailResponse(d *agents.Detail) AgentDetailResponse {
	return AgentDetailResponse{
		AgentResponse:       NewAgentResponse(d.Summary),
		ActiveConnections:   d.ActiveConnections,
		ActiveWindowSeconds: int64(d.ActiveWindow.Seconds()),
		LastConnection:      d.LastConnection,
	}
}

func NewConnectionResponse(c agents.Connection) ConnectionResponse {
	return ConnectionResponse{
		EventID:       c.EventID,
		Timestamp:     c.Timestamp,
		Username:      c.Username,
		ClientAddress: c.ClientAddress,
		ClientPort:    c.ClientPort,
	}
}
