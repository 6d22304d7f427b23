package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ZakirC4/papermc-setup/internal/config"
)

type SettingsHandler struct {
	cfg        *config.Config
	configPath string
}

type SettingsPayload struct {
	Security config.SecurityConfig `json:"security"`
	Logging  config.LoggingConfig  `json:"logging"`
	Backups  config.BackupConfig   `json:"backups"`
}

type SettingsResponse struct {
	Game            config.GameConfig      `json:"game"`
	Downloads       config.DownloadsConfig `json:"downloads"`
	Backups         config.BackupConfig    `json:"backups"`
	Security        config.SecurityConfig  `json:"security"`
	Logging         config.LoggingConfig   `json:"logging"`
	RequiresRestart bool                   `json:"requires_restart"`
}

func NewSettingsHandler(cfg *config.Config, configPath string) *SettingsHandler {
	return &SettingsHandler{
		cfg:        cfg,
		configPath: configPath,
	}
}

func (h *SettingsHandler) response() SettingsResponse {
	return SettingsResponse{
		Game:            h.cfg.Game,
		Downloads:       h.cfg.Downloads,
		Backups:         h.cfg.Backups,
		Security:        h.cfg.Security,
		Logging:         h.cfg.Logging,
		RequiresRestart: true,
	}
}

func (h *SettingsHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.response())
}

func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var payload SettingsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload.Security.CORS.AllowedOrigins = normalizeList(payload.Security.CORS.AllowedOrigins)
	payload.Security.CORS.AllowedMethods = normalizeList(payload.Security.CORS.AllowedMethods)
	payload.Backups.Directories = normalizeList(payload.Backups.Directories)

	// Secrets are never sent to clients, so keep the stored ones
	payload.Backups.Destination.AccessKeyID = h.cfg.Backups.Destination.AccessKeyID
	payload.Backups.Destination.SecretAccessKey = h.cfg.Backups.Destination.SecretAccessKey
	payload.Backups.Destination.Password = h.cfg.Backups.Destination.Password

	if err := payload.Backups.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid backup settings", "details": err.Error()})
		return
	}

	updated := *h.cfg
	updated.Security = payload.Security
	updated.Logging = payload.Logging
	updated.Backups = payload.Backups

	if err := config.Save(&updated, h.configPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings", "details": err.Error()})
		return
	}

	h.cfg.Security = updated.Security
	h.cfg.Logging = updated.Logging
	h.cfg.Backups = updated.Backups

	c.JSON(http.StatusOK, h.response())
}

func normalizeList(values []string) []string {
	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}
	return clean
}
