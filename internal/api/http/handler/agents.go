package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/fleetwatch/internal/agents"
	"github.com/EternisAI/fleetwatch/internal/api/http/dto"
)

type AgentsHandler struct {
	agentService *agents.Service
}

func NewAgentsHandler(agentService *agents.Service) *AgentsHandler {
	return &AgentsHandler{
		agentService: agentService,
	}
}

// ListAgents returns the fleet inventory
// GET /agents
func (h *AgentsHandler) ListAgents(c *gin.Context) {
	list, err := h.agentService.List(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to list agents")
		return
	}

	resp := dto.ListAgentsResponse{
		Agents: make([]dto.AgentResponse, len(list)),
		Count:  len(list),
	}
	for i, s := range list {
		resp.Agents[i] = dto.NewAgentResponse(s)
	}
	c.JSON(http.StatusOK, resp)
}

// GetAgentStatus returns details for a specific agent
// GET /agents/:name/status?location=
func (h *AgentsHandler) GetAgentStatus(c *gin.Context) {
	detail, err := h.agentService.Detail(c.Request.Context(), c.Param("name"), c.Query("location"))
	if err != nil {
		respondError(c, err, "Failed to get agent status")
		return
	}
	c.JSON(http.StatusOK, dto.NewAgentDetailResponse(detail))
}

// ListConnections returns recent authenticated sessions, newest first
// GET /agents/:name/connections?location=&since=&limit=
func (h *AgentsHandler) ListConnections(c *gin.Context) {
	since, err := timeParam(c, "since")
	if err != nil {
		respondError(c, err, "Failed to list connections")
		return
	}
	limit, err := intParam(c, "limit", agents.DefaultConnectionsLimit)
	if err != nil {
		respondError(c, err, "Failed to list connections")
		return
	}

	ctx := c.Request.Context()
	agent, err := h.agentService.Resolve(ctx, c.Param("name"), c.Query("location"))
	if err != nil {
		respondError(c, err, "Failed to list connections")
		return
	}
	conns, err := h.agentService.RecentConnections(ctx, agent.Name, agent.Location, since, limit)
	if err != nil {
		respondError(c, err, "Failed to list connections")
		return
	}

	resp := dto.ListConnectionsResponse{
		Agent:       agent.String(),
		Connections: make([]dto.ConnectionResponse, len(conns)),
		Count:       len(conns),
	}
	for i, conn := range conns {
		resp.Connections[i] = dto.NewConnectionResponse(conn)
	}
	c.JSON(http.StatusOK, resp)
}
