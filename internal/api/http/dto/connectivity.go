package dto

import (
	"time"

	"github.com/EternisAI/fleetwatch/internal/connectivity"
)

type ConnectivityStatusResponse struct {
	Name                      string     `json:"name"`
	Location                  string     `json:"location"`
	IsLive                    bool       `json:"is_live"`
	LastHeartbeatAt           *time.Time `json:"last_heartbeat_at"`
	SecondsSinceLastHeartbeat *float64   `json:"seconds_since_last_heartbeat"`
	ReportedUptimeSeconds     *int64     `json:"reported_uptime_seconds"`
	ReportedAddress           *string    `json:"reported_address"`
	StoreReachable            *bool      `json:"store_reachable"`
}

type ConnectivityResponse struct {
	AsOf             time.Time                    `json:"as_of"`
	ThresholdSeconds float64                      `json:"threshold_seconds"`
	Agents           []ConnectivityStatusResponse `json:"agents"`
	Live             int                          `json:"live"`
	Count            int                          `json:"count"`
}

type AlertResponse struct {
	Name                      string    `json:"name"`
	Location                  string    `json:"location"`
	Severity                  string    `json:"severity"`
	Message                   string    `json:"message"`
	LastHeartbeatAt           time.Time `json:"last_heartbeat_at"`
	SecondsSinceLastHeartbeat float64   `json:"seconds_since_last_heartbeat"`
}

type AlertsResponse struct {
	AsOf   time.Time       `json:"as_of"`
	Alerts []AlertResponse `json:"alerts"`
	Count  int             `json:"count"`
}

func NewConnectivityResponse(asOf time.Time, threshold time.Duration, statuses []connectivity.Status) ConnectivityResponse {
	resp := ConnectivityResponse{
		AsOf:             asOf,
		ThresholdSeconds: threshold.Seconds(),
		Agents:           make([]ConnectivityStatusResponse, len(statuses)),
		Count:            len(statuses),
	}
	for i, s := range statuses {
		item := ConnectivityStatusResponse{
			Name:                  s.Agent.Name,
			Location:              s.Agent.Location,
			IsLive:                s.IsLive,
			LastHeartbeatAt:       s.LastHeartbeatAt,
			ReportedUptimeSeconds: s.ReportedUptimeSeconds,
			ReportedAddress:       s.ReportedAddress,
			StoreReachable:        s.StoreReachable,
		}
		if s.SinceLastHeartbeat != nil {
			secs := s.SinceLastHeartbeat.Seconds()
			item.SecondsSinceLastHeartbeat = &secs
		}
		if s.IsLive {
			resp.Live++
		}
		resp.Agents[i] = item
	}
	return resp
}

func NewAlertsResponse(asOf time.Time, alerts []connectivity.Alert) AlertsResponse {
	resp := AlertsResponse{
		AsOf:   asOf,
		Alerts: make([]AlertResponse, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		resp.Alerts[i] = AlertResponse{
			Name:                      a.Agent.Name,
			Location:                  a.Agent.Location,
			Severity:                  a.Severity,
			Message:                   a.Message,
			LastHeartbeatAt:           a.LastHeartbeatAt,
			SecondsSinceLastHeartbeat: a.SinceLastHeartbeat.Seconds(),
		}
	}
	return resp
}
