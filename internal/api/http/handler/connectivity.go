package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/fleetwatch/internal/api/http/dto"
	"github.com/EternisAI/fleetwatch/internal/clock"
	"github.com/EternisAI/fleetwatch/internal/connectivity"
)

type ConnectivityHandler struct {
	engine *connectivity.Engine
	clock  clock.Clock
}

func NewConnectivityHandler(engine *connectivity.Engine, clk clock.Clock) *ConnectivityHandler {
	return &ConnectivityHandler{
		engine: engine,
		clock:  clk,
	}
}

// GET /connectivity/status?as_of=
func (h *ConnectivityHandler) Status(c *gin.Context) {
	asOf, err := asOfParam(c)
	if err != nil {
		respondError(c, err, "Failed to derive connectivity")
		return
	}
	at := h.resolve(asOf)

	statuses, err := h.engine.Status(c.Request.Context(), &at)
	if err != nil {
		respondError(c, err, "Failed to derive connectivity")
		return
	}
	c.JSON(http.StatusOK, dto.NewConnectivityResponse(at, h.engine.Policy().Threshold(), statuses))
}

// GET /connectivity/alerts?as_of=
func (h *ConnectivityHandler) Alerts(c *gin.Context) {
	asOf, err := asOfParam(c)
	if err != nil {
		respondError(c, err, "Failed to derive alerts")
		return
	}
	at := h.resolve(asOf)

	alerts, err := h.engine.Alerts(c.Request.Context(), &at)
	if err != nil {
		respondError(c, err, "Failed to derive alerts")
		return
	}
	c.JSON(http.StatusOK, dto.NewAlertsResponse(at, alerts))
}

// resolve pins "now" once so the response reports the instant it used.
func (h *ConnectivityHandler) resolve(asOf *time.Time) time.Time {
	if asOf != nil {
		return *asOf
	}
	return h.clock.Now()
}
