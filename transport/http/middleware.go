package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/service"
	"github.com/gin-gonic/gin"
)

const sessionKey = "session"

// AuthMiddleware validates the bearer session token. A missing or malformed
// header is 401, a token that fails verification is 403.
func AuthMiddleware(claims *service.ClaimService) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		session, err := claims.VerifyJWT(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": core.ErrUnauthorized.Error()})
			return
		}

		c.Set(sessionKey, session)
		c.Next()
	}
}

// SessionFrom returns the session stored by AuthMiddleware.
func SessionFrom(c *gin.Context) (*core.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*core.Session)
	return session, ok
}

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
