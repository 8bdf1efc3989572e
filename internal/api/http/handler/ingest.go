package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/fleetwatch/internal/api/http/dto"
	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/ingest"
)

type IngestHandler struct {
	service *ingest.Service
}

func NewIngestHandler(service *ingest.Service) *IngestHandler {
	return &IngestHandler{service: service}
}

// Append stores one event
// POST /events
func (h *IngestHandler) Append(c *gin.Context) {
	var ev events.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		respondError(c, fmt.Errorf("%w: %v", events.ErrValidation, err), "Failed to decode event")
		return
	}
	ev.ID = 0

	stored, err := h.service.Append(c.Request.Context(), ev)
	if err != nil {
		respondError(c, err, "Failed to append event")
		return
	}
	c.JSON(http.StatusCreated, dto.IngestResponse{ID: stored.ID})
}
