package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZakirC4/papermc-setup/internal/logging"
)

// ActivityHandler exposes the operator activity log
type ActivityHandler struct {
	activity *logging.ActivityLogger
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(activity *logging.ActivityLogger) *ActivityHandler {
	return &ActivityHandler{activity: activity}
}

// ListActivity returns recent activities, optionally by ?type= and ?since=RFC3339
// GET /api/v1/activity
func (h *ActivityHandler) ListActivity(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC3339 timestamp"})
			return
		}
		since = parsed
	}

	activities, err := h.activity.GetActivities(c.Query("type"), since, queryLimit(c, 100, 1000))
	if err != nil {
		log.Printf("[API] Failed to list activity: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list activity"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"activities": activities,
		"count":      len(activities),
	})
}
