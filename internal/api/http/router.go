package http

import (
	"github.com/gin-gonic/gin"

	"github.com/EternisAI/fleetwatch/internal/agents"
	"github.com/EternisAI/fleetwatch/internal/analytics"
	"github.com/EternisAI/fleetwatch/internal/api/http/handler"
	"github.com/EternisAI/fleetwatch/internal/api/http/middleware"
	"github.com/EternisAI/fleetwatch/internal/auth"
	"github.com/EternisAI/fleetwatch/internal/clock"
	"github.com/EternisAI/fleetwatch/internal/connectivity"
	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/feed"
	"github.com/EternisAI/fleetwatch/internal/ingest"
	"github.com/EternisAI/fleetwatch/internal/metrics"
)

type Services struct {
	Store        events.Store
	Clock        clock.Clock
	Agents       *agents.Service
	Connectivity *connectivity.Engine
	Analytics    *analytics.Engine
	Feed         *feed.Distributor
	Ingest       *ingest.Service
	Auth         *auth.Service
	Metrics      *metrics.Metrics
	DefaultTopN  int
}

func SetupRoute(engine *gin.Engine, cfg Config, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.Store, srvs.Feed)
	engine.GET("/health", healthHandler.Check)
	if srvs.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(srvs.Metrics.Handler()))
	}

	v1 := engine.Group("/api/v1")

	authHandler := handler.NewAuthHandler(srvs.Auth)
	v1.POST("/auth/token", middleware.APIKeyAuth("Admin", cfg.AdminAPIKey), authHandler.IssueToken)

	ingestHandler := handler.NewIngestHandler(srvs.Ingest)
	v1.POST("/events", middleware.APIKeyAuth("Ingest", cfg.IngestAPIKey), ingestHandler.Append)

	liveHandler := handler.NewLiveHandler(srvs.Feed)
	v1.GET("/live/subscriptions", middleware.APIKeyAuth("Admin", cfg.AdminAPIKey), liveHandler.Subscriptions)

	viewer := v1.Group("")
	if srvs.Auth != nil && srvs.Auth.Enabled() {
		viewer.Use(middleware.JWTAuth(srvs.Auth.Validate), middleware.RequireRole(auth.RoleViewer, auth.RoleAdmin))
	}
	viewer.GET("/live/events", liveHandler.Stream)

	query := viewer.Group("", middleware.QueryMetrics(srvs.Metrics), middleware.QueryTimeout(cfg.QueryTimeout))

	agentsHandler := handler.NewAgentsHandler(srvs.Agents)
	query.GET("/agents", agentsHandler.ListAgents)
	query.GET("/agents/:name/status", agentsHandler.GetAgentStatus)
	query.GET("/agents/:name/connections", agentsHandler.ListConnections)

	connectivityHandler := handler.NewConnectivityHandler(srvs.Connectivity, srvs.Clock)
	query.GET("/connectivity/status", connectivityHandler.Status)
	query.GET("/connectivity/alerts", connectivityHandler.Alerts)

	analyticsHandler := handler.NewAnalyticsHandler(srvs.Analytics, srvs.Clock, srvs.DefaultTopN)
	query.GET("/analytics/aggregate", analyticsHandler.Aggregate)
	query.GET("/analytics/top", analyticsHandler.Top)
	query.GET("/analytics/overview", analyticsHandler.Overview)
}
