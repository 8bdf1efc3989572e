package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/fleetwatch/internal/api/http/dto"
	"github.com/EternisAI/fleetwatch/internal/auth"
)

// IssueToken mints a viewer token through the admin endpoint and returns it.
func IssueToken(t *testing.T, router *gin.Engine, adminKey, jwtSecret string) string {
	var token string

	t.Run("missing admin key", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/v1/auth/token", dto.TokenRequest{Subject: "dashboard"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("success", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/v1/auth/token", dto.TokenRequest{Subject: "dashboard"},
			map[string]string{"X-API-Key": adminKey})
		require.Equal(t, http.StatusCreated, rr.Code)

		var resp dto.TokenResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, auth.RoleViewer, resp.Role)

		claims, err := auth.ValidateToken(jwtSecret, resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "dashboard", claims.Name)
		token = resp.Token
	})

	t.Run("dashboard requires token", func(t *testing.T) {
		rr := doJSON(router, "GET", "/api/v1/agents", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	require.NotEmpty(t, token)
	return token
}

func doJSON(router *gin.Engine, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func doJSONWithAuth(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	return doJSON(router, method, path, body, map[string]string{"Authorization": "Bearer " + token})
}
