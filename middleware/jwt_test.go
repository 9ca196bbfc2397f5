package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieubaoca/docrag/utils"
)

func newProtectedRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWTAuth(secret))
	router.GET("/private", func(c *gin.Context) {
		claims := c.MustGet(ClaimsKey).(*utils.Claims)
		c.String(http.StatusOK, claims.Subject)
	})
	return router
}

func TestJWTAuth(t *testing.T) {
	router := newProtectedRouter("secret")

	valid, err := utils.GenerateToken("secret", "ops", "write", time.Hour)
	require.NoError(t, err)
	foreign, err := utils.GenerateToken("other", "ops", "write", time.Hour)
	require.NoError(t, err)
	expired, err := utils.GenerateToken("secret", "ops", "write", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"foreign signature", "Bearer " + foreign, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "ops", w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), `"status":false`)
			}
		})
	}
}
