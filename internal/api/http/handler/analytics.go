package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/fleetwatch/internal/analytics"
	"github.com/EternisAI/fleetwatch/internal/api/http/dto"
	"github.com/EternisAI/fleetwatch/internal/clock"
	"github.com/EternisAI/fleetwatch/internal/events"
)

type AnalyticsHandler struct {
	engine      *analytics.Engine
	clock       clock.Clock
	defaultTopN int
}

func NewAnalyticsHandler(engine *analytics.Engine, clk clock.Clock, defaultTopN int) *AnalyticsHandler {
	if defaultTopN <= 0 {
		defaultTopN = analytics.DefaultTopN
	}
	return &AnalyticsHandler{
		engine:      engine,
		clock:       clk,
		defaultTopN: defaultTopN,
	}
}

// Aggregate counts events per time slot and group
// GET /analytics/aggregate?kind=&from=&to=&group_by=agent&granularity=hour&agent=&location=
func (h *AnalyticsHandler) Aggregate(c *gin.Context) {
	q, err := h.aggregateQuery(c)
	if err != nil {
		respondError(c, err, "Failed to aggregate events")
		return
	}

	buckets, err := h.engine.Aggregate(c.Request.Context(), q)
	if err != nil {
		respondError(c, err, "Failed to aggregate events")
		return
	}
	c.JSON(http.StatusOK, dto.AggregateResponse{
		Window:      dto.NewWindowResponse(q.Window),
		GroupBy:     string(q.GroupBy),
		Granularity: string(q.Granularity),
		Buckets:     dto.NewBucketResponses(buckets),
	})
}

func (h *AnalyticsHandler) aggregateQuery(c *gin.Context) (analytics.Query, error) {
	var q analytics.Query
	var err error
	if q.Kinds, err = kindsParam(c); err != nil {
		return q, err
	}
	if q.Window, err = windowParams(c, h.clock.Now()); err != nil {
		return q, err
	}
	if q.GroupBy, err = analytics.ParseGroupBy(c.DefaultQuery("group_by", string(analytics.GroupByAgent))); err != nil {
		return q, err
	}
	if q.Granularity, err = analytics.ParseGranularity(c.DefaultQuery("granularity", string(analytics.Hour))); err != nil {
		return q, err
	}
	if name := c.Query("agent"); name != "" {
		q.Agent = &events.AgentID{Name: name, Location: c.Query("location")}
	}
	return q, nil
}

// Top ranks the largest groups
// GET /analytics/top?kind=&from=&to=&group_by=user&n=10
func (h *AnalyticsHandler) Top(c *gin.Context) {
	var q analytics.TopQuery
	var err error
	if q.Kinds, err = kindsParam(c); err != nil {
		respondError(c, err, "Failed to rank groups")
		return
	}
	if q.Window, err = windowParams(c, h.clock.Now()); err != nil {
		respondError(c, err, "Failed to rank groups")
		return
	}
	if q.GroupBy, err = analytics.ParseGroupBy(c.DefaultQuery("group_by", string(analytics.GroupByUser))); err != nil {
		respondError(c, err, "Failed to rank groups")
		return
	}
	if q.N, err = intParam(c, "n", h.defaultTopN); err != nil {
		respondError(c, err, "Failed to rank groups")
		return
	}

	groups, err := h.engine.TopN(c.Request.Context(), q)
	if err != nil {
		respondError(c, err, "Failed to rank groups")
		return
	}
	c.JSON(http.StatusOK, dto.TopResponse{
		Window:  dto.NewWindowResponse(q.Window),
		GroupBy: string(q.GroupBy),
		Groups:  dto.NewGroupCountResponses(groups),
	})
}

// Overview is the dashboard summary of authenticated sessions
// GET /analytics/overview?from=&to=
func (h *AnalyticsHandler) Overview(c *gin.Context) {
	window, err := windowParams(c, h.clock.Now())
	if err != nil {
		respondError(c, err, "Failed to build overview")
		return
	}

	overview, err := h.engine.Overview(c.Request.Context(), window)
	if err != nil {
		respondError(c, err, "Failed to build overview")
		return
	}
	c.JSON(http.StatusOK, dto.NewOverviewResponse(overview))
}
