package tests

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/fleetwatch/internal/api/http/dto"
	"github.com/EternisAI/fleetwatch/internal/events"
)

// TestFleetAPI ingests a small fleet history over HTTP and reads it back
// through every dashboard endpoint.
func TestFleetAPI(t *testing.T, router *gin.Engine, ingestKey, token string) {
	now := time.Now().UTC()
	tor := events.AgentID{Name: "vpn-1", Location: "toronto"}
	mtl := events.AgentID{Name: "vpn-2", Location: "montreal"}
	addr := "203.0.113.10"

	history := []events.Event{
		{Timestamp: now.Add(-time.Minute), Kind: events.KindHeartbeat, Agent: tor,
			Heartbeat: &events.HeartbeatPayload{PublicAddress: &addr}},
		{Timestamp: now.Add(-2 * time.Hour), Kind: events.KindHeartbeat, Agent: mtl,
			Heartbeat: &events.HeartbeatPayload{}},
		{Timestamp: now.Add(-3 * time.Minute), Kind: events.KindAuthenticated, Agent: tor,
			Connection: &events.ConnectionPayload{Username: "alice", ClientAddress: "198.51.100.1", ClientPort: 51820}},
		{Timestamp: now.Add(-90 * time.Minute), Kind: events.KindAuthenticated, Agent: mtl,
			Connection: &events.ConnectionPayload{Username: "bob"}},
		{Timestamp: now.Add(-2 * time.Minute), Kind: events.KindSystemStats, Agent: tor,
			Stats: &events.StatsPayload{CPUPercent: 10, MemoryPercent: 20, DiskPercent: 30}},
	}

	t.Run("ingest", func(t *testing.T) {
		for _, ev := range history {
			rr := doJSON(router, "POST", "/api/v1/events", ev, map[string]string{"X-API-Key": ingestKey})
			require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		}
	})

	t.Run("agents", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/api/v1/agents", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.ListAgentsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, 2, resp.Count)
		assert.Equal(t, "online", resp.Agents[0].Status)
		require.NotNil(t, resp.Agents[0].Stats)
		assert.Equal(t, 30.0, resp.Agents[0].Stats.DiskPercent)
		assert.Equal(t, "offline", resp.Agents[1].Status)
	})

	t.Run("agent connections", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/api/v1/agents/vpn-1/connections", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.ListConnectionsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, 51820, resp.Connections[0].ClientPort)
	})

	t.Run("connectivity alerts", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/api/v1/connectivity/alerts", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.AlertsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "vpn-2", resp.Alerts[0].Name)
	})

	t.Run("top users", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/api/v1/analytics/top?kind=authenticated&group_by=user&n=5", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.TopResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, []dto.GroupCountResponse{{Group: "alice", Count: 1}, {Group: "bob", Count: 1}}, resp.Groups)
	})

	t.Run("overview", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/api/v1/analytics/overview", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.OverviewResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, int64(2), resp.Total)
	})
}
