package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ZakirC4/papermc-setup/internal/console"
	"github.com/ZakirC4/papermc-setup/internal/logging"
	ws "github.com/ZakirC4/papermc-setup/internal/websocket"
)

// ConsoleHandler handles console-related HTTP and WebSocket requests
type ConsoleHandler struct {
	session        *console.Session
	hub            *ws.Hub
	activity       *logging.ActivityLogger
	allowedOrigins []string
}

// NewConsoleHandler creates a new console handler
func NewConsoleHandler(session *console.Session, hub *ws.Hub, activity *logging.ActivityLogger, allowedOrigins []string) *ConsoleHandler {
	return &ConsoleHandler{
		session:        session,
		hub:            hub,
		activity:       activity,
		allowedOrigins: allowedOrigins,
	}
}

// HandleConsoleWebSocket streams console output and accepts commands
// WS /ws/console
func (h *ConsoleHandler) HandleConsoleWebSocket(c *gin.Context) {
	username := currentUsername(c)

	upgrader := buildUpgrader(h.allowedOrigins)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Console] Failed to upgrade WebSocket: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	client := ws.NewClient(h.hub, conn, username, console.Room)
	client.OnMessage = h.handleClientMessage

	// Queue the backlog before registering so it precedes live lines
	lines := 100
	if l, err := strconv.Atoi(c.Query("lines")); err == nil && l > 0 {
		lines = l
	}
	client.SendMessage(console.MessageHistory, map[string]any{
		"lines":          h.session.GetHistoricalOutput(lines),
		"state":          h.session.State().String(),
		"active_viewers": h.session.GetActiveViewers() + 1,
	})

	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// handleClientMessage handles incoming messages from a console viewer
func (h *ConsoleHandler) handleClientMessage(client *ws.Client, msg *ws.Message) {
	switch msg.Type {
	case "command", "execute_command":
		payload, ok := msg.Payload.(map[string]any)
		if !ok {
			client.SendMessage("error", map[string]any{"message": "Invalid payload"})
			return
		}
		command, _ := payload["command"].(string)

		err := h.session.ExecuteCommand(command, client.Username)
		h.activity.LogCommandExecute(client.Username, command, err)
		if err != nil {
			client.SendMessage("error", map[string]any{
				"message": "Failed to execute command: " + err.Error(),
				"command": command,
			})
		}

	case "request_history":
		lines := 100
		if payload, ok := msg.Payload.(map[string]any); ok {
			if l, ok := payload["lines"].(float64); ok && l > 0 {
				lines = int(l)
			}
		}
		client.SendMessage(console.MessageHistory, map[string]any{
			"lines": h.session.GetHistoricalOutput(lines),
			"state": h.session.State().String(),
		})

	default:
		log.Printf("[Console] Unknown message type: %s", msg.Type)
	}
}

// GetOutput returns buffered console output, optionally filtered
// GET /api/v1/console/output?lines=200&filter=search&pattern=joined
func (h *ConsoleHandler) GetOutput(c *gin.Context) {
	lines := 200
	if l, err := strconv.Atoi(c.Query("lines")); err == nil && l > 0 {
		lines = l
	}

	filterType := c.DefaultQuery("filter", console.FilterNone)
	caseSensitive := c.Query("case_sensitive") == "true"
	filter, err := console.NewOutputFilter(filterType, c.Query("pattern"), caseSensitive)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	output := filter.FilterLines(h.session.GetHistoricalOutput(lines))
	c.JSON(http.StatusOK, gin.H{
		"lines": output,
		"count": len(output),
		"state": h.session.State().String(),
	})
}

// GetCommandHistory returns recent commands, optionally by one user or matching ?q=
// GET /api/v1/console/history
func (h *ConsoleHandler) GetCommandHistory(c *gin.Context) {
	history := h.session.History()
	if history == nil {
		c.JSON(http.StatusOK, gin.H{"commands": []console.CommandRecord{}, "count": 0})
		return
	}

	limit := queryLimit(c, 50, 500)
	var (
		commands []console.CommandRecord
		err      error
	)
	switch {
	case c.Query("q") != "":
		commands, err = history.SearchCommands(c.Query("q"), limit)
	case c.Query("user") != "":
		commands, err = history.GetUserCommands(c.Query("user"), limit)
	default:
		commands, err = history.GetRecentCommands(limit)
	}
	if err != nil {
		log.Printf("[Console] Failed to get command history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get command history"})
		return
	}
	if commands == nil {
		commands = []console.CommandRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"commands": commands,
		"count":    len(commands),
	})
}

// GetAutocomplete returns previously successful commands starting with ?prefix=
// GET /api/v1/console/autocomplete
func (h *ConsoleHandler) GetAutocomplete(c *gin.Context) {
	history := h.session.History()
	if history == nil {
		c.JSON(http.StatusOK, gin.H{"suggestions": []string{}})
		return
	}

	suggestions, err := history.GetAutocomplete(c.Query("prefix"), 10)
	if err != nil {
		log.Printf("[Console] Failed to get autocomplete: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get autocomplete"})
		return
	}
	if suggestions == nil {
		suggestions = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"suggestions": suggestions,
	})
}
