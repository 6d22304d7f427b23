package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ZakirC4/papermc-setup/internal/metrics"
)

// MetricsSource is the part of the metrics collector the API reads
type MetricsSource interface {
	Latest() *metrics.Sample
	Recent(limit int) ([]metrics.Sample, error)
}

type MetricsHandler struct {
	source MetricsSource
}

func NewMetricsHandler(source MetricsSource) *MetricsHandler {
	return &MetricsHandler{source: source}
}

// GetMetrics returns the latest sample and the stored history
// GET /api/v1/server/metrics
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	history, err := h.source.Recent(queryLimit(c, 240, 5760))
	if err != nil {
		log.Printf("[API] Failed to list metrics: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list metrics"})
		return
	}
	if history == nil {
		history = []metrics.Sample{}
	}

	c.JSON(http.StatusOK, gin.H{
		"current": h.source.Latest(),
		"history": history,
		"count":   len(history),
	})
}
