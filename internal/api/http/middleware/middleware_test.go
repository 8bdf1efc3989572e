package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/EternisAI/fleetwatch/internal/agents"
	"github.com/EternisAI/fleetwatch/internal/auth"
	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, path string, header map[string]string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("GET", path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIKeyAuth(t *testing.T) {
	r := gin.New()
	r.GET("/open", APIKeyAuth("Admin", ""), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/guarded", APIKeyAuth("Admin", "k"), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusServiceUnavailable, serve(r, "/open", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/guarded", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/guarded", map[string]string{"X-API-Key": "x"}).Code)
	assert.Equal(t, http.StatusOK, serve(r, "/guarded", map[string]string{"X-API-Key": "k"}).Code)
}

func TestJWTAuthAndRequireRole(t *testing.T) {
	validate := func(token string) (*auth.Claims, error) {
		switch token {
		case "viewer":
			return &auth.Claims{Name: "ops", Role: auth.RoleViewer}, nil
		case "admin":
			return &auth.Claims{Name: "root", Role: auth.RoleAdmin}, nil
		}
		return nil, auth.ErrInvalidToken
	}

	r := gin.New()
	r.GET("/view", JWTAuth(validate), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(SubjectKey))
	})
	r.GET("/admin", JWTAuth(validate), RequireRole(auth.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusUnauthorized, serve(r, "/view", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/view", map[string]string{"Authorization": "Bearer nope"}).Code)

	w := serve(r, "/view", map[string]string{"Authorization": "Bearer viewer"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", w.Body.String())
	assert.Equal(t, http.StatusOK, serve(r, "/view?access_token=viewer", nil).Code)

	assert.Equal(t, http.StatusForbidden, serve(r, "/admin", map[string]string{"Authorization": "Bearer viewer"}).Code)
	assert.Equal(t, http.StatusOK, serve(r, "/admin", map[string]string{"Authorization": "Bearer admin"}).Code)
}

func TestQueryTimeout(t *testing.T) {
	r := gin.New()
	r.GET("/", QueryTimeout(time.Minute), func(c *gin.Context) {
		deadline, ok := c.Request.Context().Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
		c.Status(http.StatusOK)
	})
	r.GET("/none", QueryTimeout(0), func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		assert.False(t, ok)
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(r, "/", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, "/none", nil).Code)
}

func TestQueryMetrics(t *testing.T) {
	m := metrics.New()
	r := gin.New()
	r.GET("/metrics", gin.WrapH(m.Handler()))
	q := r.Group("", QueryMetrics(m))
	q.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	q.GET("/bad", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("%w: from after to", events.ErrValidation))
		c.AbortWithStatus(http.StatusBadRequest)
	})
	q.GET("/agents/:name", func(c *gin.Context) {
		_ = c.Error(agents.ErrAgentNotFound)
		c.AbortWithStatus(http.StatusNotFound)
	})
	q.GET("/down", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("query range: %w", events.ErrStoreUnavailable))
		c.AbortWithStatus(http.StatusServiceUnavailable)
	})

	serve(r, "/ok", nil)
	serve(r, "/ok", nil)
	serve(r, "/bad", nil)
	serve(r, "/agents/vpn-1", nil)
	serve(r, "/agents/vpn-2", nil)
	serve(r, "/down", nil)

	body := serve(r, "/metrics", nil).Body.String()
	assert.Contains(t, body, `fleetwatch_query_duration_seconds_count{query="/ok"} 2`)
	assert.Contains(t, body, `fleetwatch_query_duration_seconds_count{query="/agents/:name"} 2`)
	assert.Contains(t, body, `fleetwatch_query_failures_total{class="validation",query="/bad"} 1`)
	assert.Contains(t, body, `fleetwatch_query_failures_total{class="agent",query="/agents/:name"} 2`)
	assert.Contains(t, body, `fleetwatch_query_failures_total{class="store_unavailable",query="/down"} 1`)
	assert.NotContains(t, body, `fleetwatch_query_failures_total{class="validation",query="/ok"}`)
}
