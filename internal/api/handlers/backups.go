package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ZakirC4/papermc-setup/internal/backup"
	"github.com/ZakirC4/papermc-setup/internal/logging"
)

// BackupService is the backup manager surface exposed over HTTP
type BackupService interface {
	CreateBackup(ctx context.Context, createdBy string) (*backup.BackupRecord, error)
	ListBackups(limit int) ([]*backup.BackupRecord, error)
	GetBackup(backupID string) (*backup.BackupRecord, error)
	RestoreBackup(backupID string) error
	DeleteBackup(backupID string) error
}

// BackupHandler handles backup-related requests
type BackupHandler struct {
	backups  BackupService
	activity *logging.ActivityLogger
}

// NewBackupHandler creates a new backup handler
func NewBackupHandler(backups BackupService, activity *logging.ActivityLogger) *BackupHandler {
	return &BackupHandler{backups: backups, activity: activity}
}

// CreateBackup runs a backup now and returns its record
// POST /api/v1/backups
func (h *BackupHandler) CreateBackup(c *gin.Context) {
	username := currentUsername(c)

	record, err := h.backups.CreateBackup(c.Request.Context(), username)
	metadata := map[string]any{}
	if record != nil {
		metadata["backup_id"] = record.ID
		metadata["filename"] = record.Filename
		metadata["size_bytes"] = record.SizeBytes
	}
	h.activity.Record(logging.ActivityBackupCreate, username, "Backup created", err, metadata)
	if err != nil {
		log.Printf("[API] Backup failed: %v", err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

// ListBackups lists backups, newest first
// GET /api/v1/backups
func (h *BackupHandler) ListBackups(c *gin.Context) {
	backups, err := h.backups.ListBackups(queryLimit(c, 50, 500))
	if err != nil {
		log.Printf("[API] Failed to list backups: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list backups"})
		return
	}
	if backups == nil {
		backups = []*backup.BackupRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"backups": backups,
		"count":   len(backups),
	})
}

// GetBackup retrieves a specific backup
// GET /api/v1/backups/:id
func (h *BackupHandler) GetBackup(c *gin.Context) {
	record, err := h.backups.GetBackup(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// RestoreBackup extracts a backup over the server directory. The server must be stopped.
// POST /api/v1/backups/:id/restore
func (h *BackupHandler) RestoreBackup(c *gin.Context) {
	backupID := c.Param("id")

	err := h.backups.RestoreBackup(backupID)
	h.activity.Record(logging.ActivityBackupRestore, currentUsername(c), "Backup restored", err,
		map[string]any{"backup_id": backupID})
	if err != nil {
		log.Printf("[API] Restore of %s failed: %v", backupID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Backup restored", "backup_id": backupID})
}

// DeleteBackup removes a backup from its destination
// DELETE /api/v1/backups/:id
func (h *BackupHandler) DeleteBackup(c *gin.Context) {
	backupID := c.Param("id")

	err := h.backups.DeleteBackup(backupID)
	h.activity.Record(logging.ActivityBackupDelete, currentUsername(c), "Backup deleted", err,
		map[string]any{"backup_id": backupID})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Backup deleted", "backup_id": backupID})
}
