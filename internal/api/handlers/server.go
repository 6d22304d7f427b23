package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ZakirC4/papermc-setup/internal/console"
	"github.com/ZakirC4/papermc-setup/internal/logging"
	"github.com/ZakirC4/papermc-setup/internal/server"
)

// ServerController is the lifecycle surface driven by the server routes
type ServerController interface {
	StartServer(ctx context.Context) (*server.Handle, error)
	StopServer(ctx context.Context, graceful bool) (server.ExitInfo, error)
	RestartServer(ctx context.Context, graceful bool) (*server.Handle, error)
	SaveAll() error
	Status() server.Status
	RecentRuns(limit int) ([]server.RunRecord, error)
}

// ServerHandler handles lifecycle requests for the supervised server
type ServerHandler struct {
	lifecycle ServerController
	session   *console.Session
	activity  *logging.ActivityLogger
}

// NewServerHandler creates a new server handler
func NewServerHandler(lifecycle ServerController, session *console.Session, activity *logging.ActivityLogger) *ServerHandler {
	return &ServerHandler{
		lifecycle: lifecycle,
		session:   session,
		activity:  activity,
	}
}

// GetStatus returns the server status
// GET /api/v1/server
func (h *ServerHandler) GetStatus(c *gin.Context) {
	status := h.lifecycle.Status()
	viewers := 0
	if h.session != nil {
		viewers = h.session.GetActiveViewers()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"active_viewers": viewers,
	})
}

// StartServer starts the server and waits for its ready line
// POST /api/v1/server/start
func (h *ServerHandler) StartServer(c *gin.Context) {
	username := currentUsername(c)

	handle, err := h.lifecycle.StartServer(c.Request.Context())
	metadata := map[string]any{}
	if handle != nil {
		metadata["instance_id"] = handle.ID
		metadata["pid"] = handle.PID
	}
	h.activity.Record(logging.ActivityServerStart, username, "Server start", err, metadata)
	if err != nil {
		log.Printf("[API] Failed to start server: %v", err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Server started",
		"instance_id": handle.ID,
		"pid":         handle.PID,
		"status":      h.lifecycle.Status(),
	})
}

// StopServer stops the server, gracefully unless ?graceful=false
// POST /api/v1/server/stop
func (h *ServerHandler) StopServer(c *gin.Context) {
	graceful := parseGraceful(c)

	exit, err := h.lifecycle.StopServer(c.Request.Context(), graceful)
	h.activity.Record(logging.ActivityServerStop, currentUsername(c),
		fmt.Sprintf("Server stop (graceful: %v)", graceful), err,
		map[string]any{"graceful": graceful, "forced": exit.Forced, "exit_code": exit.ExitCode})
	if err != nil {
		log.Printf("[API] Failed to stop server: %v", err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Server stopped",
		"exit":    exit,
	})
}

// RestartServer stops and starts the server
// POST /api/v1/server/restart
func (h *ServerHandler) RestartServer(c *gin.Context) {
	graceful := parseGraceful(c)

	handle, err := h.lifecycle.RestartServer(c.Request.Context(), graceful)
	h.activity.Record(logging.ActivityServerRestart, currentUsername(c), "Server restart", err,
		map[string]any{"graceful": graceful})
	if err != nil {
		log.Printf("[API] Failed to restart server: %v", err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Server restarted",
		"instance_id": handle.ID,
		"pid":         handle.PID,
	})
}

// SaveServer flushes the world and waits for the save confirmation
// POST /api/v1/server/save
func (h *ServerHandler) SaveServer(c *gin.Context) {
	err := h.lifecycle.SaveAll()
	h.activity.Record(logging.ActivityServerSave, currentUsername(c), "World save", err, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "World saved"})
}

// ExecuteCommand sends one console command
// POST /api/v1/server/command
func (h *ServerHandler) ExecuteCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	username := currentUsername(c)
	err := h.session.ExecuteCommand(req.Command, username)
	h.activity.LogCommandExecute(username, req.Command, err)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Command sent",
		"command": req.Command,
	})
}

// ListRuns returns the run history
// GET /api/v1/server/runs
func (h *ServerHandler) ListRuns(c *gin.Context) {
	runs, err := h.lifecycle.RecentRuns(queryLimit(c, 20, 200))
	if err != nil {
		log.Printf("[API] Failed to list runs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}
	if runs == nil {
		runs = []server.RunRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

func parseGraceful(c *gin.Context) bool {
	graceful, err := strconv.ParseBool(c.DefaultQuery("graceful", "true"))
	if err != nil {
		return true
	}
	return graceful
}
