package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/waas"
	"github.com/gin-gonic/gin"
)

// statusByError maps domain errors to responses. Order matters: the first
// match wins, so the more specific sentinels come first.
var statusByError = []struct {
	err    error
	status int
}{
	{core.ErrInvalidInput, http.StatusBadRequest},
	{core.ErrInvalidUsername, http.StatusBadRequest},
	{core.ErrInvalidAddress, http.StatusBadRequest},
	{core.ErrInvalidLoginMethod, http.StatusBadRequest},
	{core.ErrSignatureExpired, http.StatusBadRequest},
	{core.ErrExpirationTooFar, http.StatusBadRequest},
	{core.ErrUsernameTaken, http.StatusBadRequest},
	{core.ErrAddressAlreadyClaimed, http.StatusBadRequest},
	{core.ErrUsernameRejected, http.StatusBadRequest},
	{core.ErrInvalidSignature, http.StatusUnauthorized},
	{core.ErrInvalidCredentials, http.StatusUnauthorized},
	{core.ErrUnauthorized, http.StatusUnauthorized},
	{core.ErrNotFound, http.StatusNotFound},
}

// writeError responds with the message of the matched sentinel only, so
// wrapped details never leak to callers.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			c.JSON(m.status, gin.H{"error": m.err.Error()})
			return
		}
	}

	if errors.Is(err, core.ErrRemoteService) {
		attrs := []any{"path", c.FullPath(), "error", err}
		var remote *waas.RemoteError
		if errors.As(err, &remote) {
			attrs = append(attrs, "remote_status", remote.Status)
		}
		logger.Error("wallet backend failure", attrs...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": core.ErrRemoteService.Error()})
		return
	}

	logger.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
