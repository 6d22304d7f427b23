package handlers

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ZakirC4/papermc-setup/internal/download"
	"github.com/ZakirC4/papermc-setup/internal/logging"
	ws "github.com/ZakirC4/papermc-setup/internal/websocket"
)

// DownloadHandler queues server and plugin downloads and reports their progress
type DownloadHandler struct {
	manager        *download.Manager
	hub            *ws.Hub
	activity       *logging.ActivityLogger
	allowedOrigins []string
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(manager *download.Manager, hub *ws.Hub, activity *logging.ActivityLogger, allowedOrigins []string) *DownloadHandler {
	return &DownloadHandler{
		manager:        manager,
		hub:            hub,
		activity:       activity,
		allowedOrigins: allowedOrigins,
	}
}

// DownloadServer queues a download of the configured server jar
// POST /api/v1/downloads/server
func (h *DownloadHandler) DownloadServer(c *gin.Context) {
	username := currentUsername(c)
	job, err := h.manager.SubmitServer(username)
	if err != nil {
		h.activity.Record(logging.ActivityDownload, username, "Server jar download", err, nil)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.activity.Record(logging.ActivityDownload, username, "Server jar download queued", nil,
		map[string]any{"job_id": job.ID, "url": job.URL})
	c.JSON(http.StatusAccepted, job)
}

// DownloadPlugin queues a plugin download from the catalog
// POST /api/v1/downloads/plugins/:name
func (h *DownloadHandler) DownloadPlugin(c *gin.Context) {
	name := c.Param("name")
	username := currentUsername(c)

	job, err := h.manager.SubmitPlugin(name, username)
	if err != nil {
		h.activity.Record(logging.ActivityDownload, username, fmt.Sprintf("Plugin %s download", name), err, nil)
		respondError(c, err)
		return
	}

	h.activity.Record(logging.ActivityDownload, username, fmt.Sprintf("Plugin %s download queued", job.Target), nil,
		map[string]any{"job_id": job.ID, "url": job.URL})
	c.JSON(http.StatusAccepted, job)
}

// ListPlugins returns the plugin catalog
// GET /api/v1/downloads/plugins
func (h *DownloadHandler) ListPlugins(c *gin.Context) {
	catalog := h.manager.Catalog()
	plugins := make([]gin.H, 0)
	for _, name := range catalog.Names() {
		_, url, err := catalog.Lookup(name)
		if err != nil {
			continue
		}
		plugins = append(plugins, gin.H{
			"name":      name,
			"url":       url,
			"installed": fileExists(h.manager.PluginPath(name)),
		})
	}
	c.JSON(http.StatusOK, gin.H{"plugins": plugins})
}

// ListJobs returns recent download jobs
// GET /api/v1/downloads/jobs
func (h *DownloadHandler) ListJobs(c *gin.Context) {
	jobs := h.manager.ListJobs(queryLimit(c, 50, 500))
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob returns one download job
// GET /api/v1/downloads/jobs/:id
func (h *DownloadHandler) GetJob(c *gin.Context) {
	job, err := h.manager.GetJob(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// HandleJobWebSocket streams download job output via WebSocket
// WS /ws/downloads/jobs/:id
func (h *DownloadHandler) HandleJobWebSocket(c *gin.Context) {
	jobID := c.Param("id")
	job, err := h.manager.GetJob(jobID)
	if err != nil {
		respondError(c, err)
		return
	}

	upgrader := buildUpgrader(h.allowedOrigins)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Download] Failed to upgrade WebSocket: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, currentUsername(c), "download-job:"+jobID)
	h.hub.Register <- client

	sendEvent := func(event string, data any) {
		_ = client.SendMessage("download_job_event", map[string]any{
			"job_id": jobID,
			"event":  event,
			"data":   data,
		})
	}

	// Subscribe before replaying so nothing between the snapshot and the stream is lost
	ch, unsubscribe := h.manager.Subscribe(jobID)
	if latest, err := h.manager.GetJob(jobID); err == nil {
		job = latest
	}
	for _, line := range job.Output {
		sendEvent("log", line)
	}
	sendEvent("progress", job.Progress)
	sendEvent("status", string(job.Status))

	go func() {
		defer unsubscribe()
		if job.Finished() {
			return
		}
		for ev := range ch {
			sendEvent(ev.Event, ev.Data)
			if ev.Event == "status" && (ev.Data == string(download.StatusComplete) || ev.Data == string(download.StatusFailed)) {
				return
			}
		}
	}()

	go client.WritePump()
	go client.ReadPump()
}
