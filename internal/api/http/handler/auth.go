package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/fleetwatch/internal/api/http/dto"
	"github.com/EternisAI/fleetwatch/internal/auth"
)

type AuthHandler struct {
	service *auth.Service
}

func NewAuthHandler(service *auth.Service) *AuthHandler {
	return &AuthHandler{service: service}
}

// IssueToken mints a dashboard token. The route sits behind the admin key.
// POST /auth/token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	if !h.service.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token auth is not configured"})
		return
	}

	var req dto.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.service.Issue(req.Subject, req.Role, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		respondError(c, err, "Failed to issue token")
		return
	}

	slog.Info("Token issued", "subject", token.Subject, "role", token.Role, "expires_at", token.ExpiresAt)
	c.JSON(http.StatusCreated, dto.TokenResponse{
		Token:     token.Value,
		Subject:   token.Subject,
		Role:      token.Role,
		ExpiresAt: token.ExpiresAt,
	})
}
