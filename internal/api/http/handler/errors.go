package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/fleetwatch/internal/agents"
	"github.com/EternisAI/fleetwatch/internal/auth"
	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/feed"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, events.ErrValidation),
		errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, auth.ErrMissingSubject):
		return http.StatusBadRequest
	case errors.Is(err, agents.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, agents.ErrAmbiguousAgent):
		return http.StatusConflict
	case errors.Is(err, feed.ErrSubscriptionClosed):
		return http.StatusGone
	case errors.Is(err, events.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, events.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes the JSON error body for err. Server-side failures are
// logged with msg; client errors are not.
func respondError(c *gin.Context, err error, msg string) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error(msg, "path", c.Request.URL.Path, "status", code, "error", err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
