package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davidatlihan/codesafe/internal/v1/logging"
)

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// RequireAuth authenticates the request's bearer token and stores the
// resulting identity on the gin context. The user id is also injected
// into the request context so log lines carry it.
func (h *Handlers) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		identity, err := h.verifier.Verify(token)
		if err != nil {
			logging.Warn(c.Request.Context(), "rest token rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(identityKey, identity)

		ctx := context.WithValue(c.Request.Context(), logging.UserIDKey, identity.UserID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RefuseWhenDraining rejects new work once shutdown has begun.
func (h *Handlers) RefuseWhenDraining() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.draining.Load() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
			return
		}
		c.Next()
	}
}
