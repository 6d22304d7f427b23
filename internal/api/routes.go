package api

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/ZakirC4/papermc-setup/internal/api/handlers"
	"github.com/ZakirC4/papermc-setup/internal/api/middleware"
	"github.com/ZakirC4/papermc-setup/internal/auth"
	"github.com/ZakirC4/papermc-setup/internal/config"
	"github.com/ZakirC4/papermc-setup/internal/console"
	"github.com/ZakirC4/papermc-setup/internal/download"
	"github.com/ZakirC4/papermc-setup/internal/logging"
	"github.com/ZakirC4/papermc-setup/internal/properties"
	"github.com/ZakirC4/papermc-setup/internal/websocket"
)

// Dependencies are the components the HTTP API drives
type Dependencies struct {
	Config        *config.Config
	ConfigPath    string
	Lifecycle     handlers.ServerController
	Session       *console.Session
	Hub           *websocket.Hub
	Downloads     *download.Manager
	Backups       handlers.BackupService
	Metrics       handlers.MetricsSource
	Activity      *logging.ActivityLogger
	JWTManager    *auth.JWTManager
	Authenticator *auth.Authenticator
}

// SetupRouter configures and returns the HTTP router
func SetupRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	debug := cfg.Logging.Level == "debug"
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.Security.CORS))
	router.Use(middleware.RateLimit(cfg.Security.RateLimit))
	router.Use(middleware.SecurityHeaders(cfg.HTTP.TLS.Enabled))
	router.Use(middleware.ContentSecurityPolicy(debug))

	origins := cfg.Security.CORS.AllowedOrigins
	authHandler := handlers.NewAuthHandler(deps.Authenticator, deps.JWTManager, deps.Activity)
	serverHandler := handlers.NewServerHandler(deps.Lifecycle, deps.Session, deps.Activity)
	consoleHandler := handlers.NewConsoleHandler(deps.Session, deps.Hub, deps.Activity, origins)
	propertiesHandler := handlers.NewPropertiesHandler(propertiesPath(cfg), deps.Activity)
	settingsHandler := handlers.NewSettingsHandler(cfg, deps.ConfigPath)
	activityHandler := handlers.NewActivityHandler(deps.Activity)

	public := router.Group("/api/v1")
	{
		public.POST("/auth/login", middleware.LoginRateLimit(cfg.Security.RateLimit), authHandler.Login)
	}

	authRequired := middleware.Auth(deps.JWTManager)

	protected := router.Group("/api/v1")
	protected.Use(authRequired)
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/auth/me", authHandler.GetCurrentUser)

		srv := protected.Group("/server")
		{
			srv.GET("", serverHandler.GetStatus)
			srv.POST("/start", serverHandler.StartServer)
			srv.POST("/stop", serverHandler.StopServer)
			srv.POST("/restart", serverHandler.RestartServer)
			srv.POST("/save", serverHandler.SaveServer)
			srv.POST("/command", serverHandler.ExecuteCommand)
			srv.GET("/runs", serverHandler.ListRuns)
			if deps.Metrics != nil {
				srv.GET("/metrics", handlers.NewMetricsHandler(deps.Metrics).GetMetrics)
			}
		}

		cons := protected.Group("/console")
		{
			cons.GET("/output", consoleHandler.GetOutput)
			cons.GET("/history", consoleHandler.GetCommandHistory)
			cons.GET("/autocomplete", consoleHandler.GetAutocomplete)
		}

		protected.GET("/properties", propertiesHandler.GetProperties)
		protected.PUT("/properties", propertiesHandler.ReplaceProperties)
		protected.PATCH("/properties", propertiesHandler.UpdateProperties)

		if deps.Downloads != nil {
			downloadHandler := handlers.NewDownloadHandler(deps.Downloads, deps.Hub, deps.Activity, origins)
			downloads := protected.Group("/downloads")
			{
				downloads.POST("/server", downloadHandler.DownloadServer)
				downloads.GET("/plugins", downloadHandler.ListPlugins)
				downloads.POST("/plugins/:name", downloadHandler.DownloadPlugin)
				downloads.GET("/jobs", downloadHandler.ListJobs)
				downloads.GET("/jobs/:id", downloadHandler.GetJob)
			}
			router.GET("/ws/downloads/jobs/:id", authRequired, downloadHandler.HandleJobWebSocket)
		}

		if deps.Backups != nil {
			backupHandler := handlers.NewBackupHandler(deps.Backups, deps.Activity)
			backups := protected.Group("/backups")
			{
				backups.GET("", backupHandler.ListBackups)
				backups.POST("", backupHandler.CreateBackup)
				backups.GET("/:id", backupHandler.GetBackup)
				backups.POST("/:id/restore", backupHandler.RestoreBackup)
				backups.DELETE("/:id", backupHandler.DeleteBackup)
			}
		}

		protected.GET("/settings", settingsHandler.GetSettings)
		protected.PUT("/settings", settingsHandler.UpdateSettings)
		protected.GET("/activity", activityHandler.ListActivity)
	}

	router.GET("/ws/console", authRequired, consoleHandler.HandleConsoleWebSocket)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

func propertiesPath(cfg *config.Config) string {
	return filepath.Join(cfg.Storage.ServerDir, properties.FileName)
}
