package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/fleetwatch/internal/agents"
	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/metrics"
)

// QueryMetrics records latency and failures of dashboard queries under
// their route template. Failures are classed by the error the handler
// attached with c.Error.
func QueryMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		query := c.FullPath()
		if query == "" {
			query = "unmatched"
		}
		var class string
		if last := c.Errors.Last(); last != nil {
			class = failureClass(last.Err)
		} else if c.Writer.Status() >= http.StatusBadRequest {
			class = "rejected"
		}
		m.ObserveQuery(query, started, class)
	}
}

func failureClass(err error) string {
	switch {
	case errors.Is(err, events.ErrValidation):
		return "validation"
	case errors.Is(err, agents.ErrAgentNotFound), errors.Is(err, agents.ErrAmbiguousAgent):
		return "agent"
	case errors.Is(err, events.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, events.ErrStoreUnavailable):
		return "store_unavailable"
	}
	return "internal"
}
