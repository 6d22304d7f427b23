package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ZakirC4/papermc-setup/internal/backup"
	"github.com/ZakirC4/papermc-setup/internal/console"
	"github.com/ZakirC4/papermc-setup/internal/download"
	"github.com/ZakirC4/papermc-setup/internal/properties"
	"github.com/ZakirC4/papermc-setup/internal/provision"
	"github.com/ZakirC4/papermc-setup/internal/server"
)

// statusForError maps domain errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, server.ErrAlreadyRunning),
		errors.Is(err, server.ErrNotRunning),
		errors.Is(err, backup.ErrBackupInProgress),
		errors.Is(err, backup.ErrServerRunning):
		return http.StatusConflict
	case errors.Is(err, server.ErrBrokenPipe):
		return http.StatusBadGateway
	case errors.Is(err, server.ErrAckTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, properties.ErrNotFound),
		errors.Is(err, download.ErrJobNotFound),
		errors.Is(err, download.ErrUnknownPlugin),
		errors.Is(err, backup.ErrBackupNotFound):
		return http.StatusNotFound
	case errors.Is(err, console.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, provision.ErrEULANotAccepted):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

// currentUsername returns the operator set by the auth middleware
func currentUsername(c *gin.Context) string {
	if username, ok := c.Get("username"); ok {
		if s, ok := username.(string); ok {
			return s
		}
	}
	return ""
}

// queryLimit parses ?limit= and clamps it to [1, max]
func queryLimit(c *gin.Context, fallback, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(fallback)))
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return isOriginAllowed(origin, allowedOrigins)
		},
	}
}

func isOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" {
		return true
	}

	for _, allowedOrigin := range allowedOrigins {
		normalized := strings.TrimSpace(allowedOrigin)
		if normalized == "" {
			continue
		}
		if normalized == "*" || normalized == "0.0.0.0/0" || normalized == origin {
			return true
		}
	}

	return false
}
