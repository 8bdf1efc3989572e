package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/fleetwatch/internal/api/http/dto"
	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/feed"
)

type HealthHandler struct {
	store events.Store
	feed  *feed.Distributor
}

func NewHealthHandler(store events.Store, dist *feed.Distributor) *HealthHandler {
	return &HealthHandler{
		store: store,
		feed:  dist,
	}
}

// Check pings the store and reports 503 when it is unreachable.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx := c.Request.Context()
	resp := dto.HealthResponse{Status: "ok", Store: "ok"}
	if h.feed != nil {
		resp.Subscribers = h.feed.Count()
	}

	if err := h.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = "unavailable"
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	known, err := h.store.Agents(ctx)
	if err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp.Agents = len(known)

	c.JSON(http.StatusOK, resp)
}
