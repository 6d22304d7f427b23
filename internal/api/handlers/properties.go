package handlers

import (
	"errors"
	"log"
	"net/http"
	"os"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/ZakirC4/papermc-setup/internal/logging"
	"github.com/ZakirC4/papermc-setup/internal/properties"
)

// PropertiesHandler reads and edits server.properties
type PropertiesHandler struct {
	path     string
	activity *logging.ActivityLogger
	mu       sync.Mutex
}

// NewPropertiesHandler creates a handler for the properties file at path
func NewPropertiesHandler(path string, activity *logging.ActivityLogger) *PropertiesHandler {
	return &PropertiesHandler{path: path, activity: activity}
}

// GetProperties returns every key in file order together with the raw text
// GET /api/v1/properties
func (h *PropertiesHandler) GetProperties(c *gin.Context) {
	h.mu.Lock()
	file, err := properties.Load(h.path)
	h.mu.Unlock()
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"properties": file.Map(),
		"keys":       file.Keys(),
		"content":    string(file.Bytes()),
	})
}

// ReplaceProperties overwrites the whole file with {"content": "..."}
// PUT /api/v1/properties
func (h *PropertiesHandler) ReplaceProperties(c *gin.Context) {
	var req struct {
		Content *string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Only an existing file may be replaced; downloads create it on first start
	if _, err := os.Stat(h.path); errors.Is(err, os.ErrNotExist) {
		respondError(c, properties.ErrNotFound)
		return
	}

	file := properties.Parse([]byte(*req.Content))
	err := file.Save(h.path)
	h.activity.Record(logging.ActivityPropertiesUpdate, currentUsername(c), "Replaced server.properties", err,
		map[string]any{"keys": len(file.Keys())})
	if err != nil {
		log.Printf("[Properties] Failed to save %s: %v", h.path, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"properties":       file.Map(),
		"keys":             file.Keys(),
		"requires_restart": true,
	})
}

// UpdateProperties sets individual keys from a {"key": "value"} object
// PATCH /api/v1/properties
func (h *PropertiesHandler) UpdateProperties(c *gin.Context) {
	var changes map[string]string
	if err := c.ShouldBindJSON(&changes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(changes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No properties provided"})
		return
	}

	h.mu.Lock()
	file, err := properties.Update(h.path, changes)
	h.mu.Unlock()

	keys := make([]string, 0, len(changes))
	for key := range changes {
		keys = append(keys, key)
	}
	h.activity.Record(logging.ActivityPropertiesUpdate, currentUsername(c), "Updated server.properties", err,
		map[string]any{"changed": keys})
	if err != nil {
		if errors.Is(err, properties.ErrNotFound) {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"properties":       file.Map(),
		"keys":             file.Keys(),
		"requires_restart": true,
	})
}
