package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ZakirC4/papermc-setup/internal/api"
	"github.com/ZakirC4/papermc-setup/internal/auth"
	"github.com/ZakirC4/papermc-setup/internal/backup"
	"github.com/ZakirC4/papermc-setup/internal/config"
	"github.com/ZakirC4/papermc-setup/internal/console"
	"github.com/ZakirC4/papermc-setup/internal/database"
	"github.com/ZakirC4/papermc-setup/internal/download"
	"github.com/ZakirC4/papermc-setup/internal/logging"
	"github.com/ZakirC4/papermc-setup/internal/metrics"
	"github.com/ZakirC4/papermc-setup/internal/server"
	"github.com/ZakirC4/papermc-setup/internal/tlscert"
	"github.com/ZakirC4/papermc-setup/internal/websocket"
)

func main() {
	// Load configuration
	configPath := config.GetConfigPath()
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	if err := setupLogging(cfg); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logging.Close()

	// Check if running migrations
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		action := "up"
		if len(os.Args) > 2 {
			action = os.Args[2]
		}
		runMigrations(cfg, action)
		return
	}

	// Initialize database
	db, err := database.Open(cfg.Database.Path, cfg.Database.MaxConnections)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Run migrations automatically
	log.Println("Running database migrations...")
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations completed successfully")

	// Initialize activity logger
	logDir := filepath.Join(cfg.Storage.DataDir, "logs", "activity")
	activityLogger, err := logging.NewActivityLogger(db.DB, logDir)
	if err != nil {
		log.Fatalf("Failed to initialize activity logger: %v", err)
	}
	defer activityLogger.Close()

	// Initialize supervisor and lifecycle manager
	supervisor := server.NewSupervisor(
		server.WithStopCommand(cfg.Game.StopCommand),
		server.WithKillGrace(cfg.Game.KillGraceDuration()),
		server.WithLogger(logging.Component("Supervisor")),
	)
	serverConfig := server.ServerConfigFromGame(cfg.Storage.ServerDir, cfg.Game)
	lifecycleManager := server.NewLifecycleManager(supervisor, serverConfig, db.DB)

	// Initialize WebSocket hub
	log.Println("Initializing WebSocket hub...")
	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// Initialize console session
	log.Println("Initializing console session...")
	session, logWriter, err := newConsoleSession(cfg, db, supervisor, hub)
	if err != nil {
		log.Fatalf("Failed to initialize console session: %v", err)
	}
	if logWriter != nil {
		defer logWriter.Close()
	}
	session.Start(ctx)

	downloadManager := download.NewManager(cfg, db.DB)

	// Start backup and save schedules
	backupManager := backup.NewBackupManager(cfg, db.DB, supervisor)
	scheduler := backup.NewScheduler()
	if cfg.Backups.Enabled && cfg.Backups.Schedule != "" {
		if err := scheduler.ScheduleBackups(cfg.Backups.Schedule, backupManager); err != nil {
			log.Fatalf("Failed to schedule backups: %v", err)
		}
	}
	if cfg.Game.SaveSchedule != "" {
		if err := scheduler.ScheduleSaves(cfg.Game.SaveSchedule, lifecycleManager.SaveAll); err != nil {
			log.Fatalf("Failed to schedule saves: %v", err)
		}
	}
	scheduler.Start()

	metricsCollector := metrics.NewCollector(cfg.Metrics, supervisor, db.DB)
	metricsCollector.Start()

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.AccessTokenTTL())
	authenticator := auth.NewAuthenticator(cfg.Auth.AdminUsername, cfg.Auth.AdminPasswordHash)
	if cfg.Auth.AdminPasswordHash == "" {
		log.Println("Warning: no admin_password_hash configured; logins will be rejected")
	}

	log.Println("All server components initialized successfully")

	if cfg.Game.AutoStart {
		go func() {
			if _, err := lifecycleManager.StartServer(ctx); err != nil {
				log.Printf("Auto start failed: %v", err)
				activityLogger.Record(logging.ActivityServerStart, "system", "Server auto start", err, nil)
				return
			}
			activityLogger.Record(logging.ActivityServerStart, "system", "Server auto start", nil, nil)
		}()
	}

	// Set up HTTP server
	router := api.SetupRouter(api.Dependencies{
		Config:        cfg,
		ConfigPath:    configPath,
		Lifecycle:     lifecycleManager,
		Session:       session,
		Hub:           hub,
		Downloads:     downloadManager,
		Backups:       backupManager,
		Metrics:       metricsCollector,
		Activity:      activityLogger,
		JWTManager:    jwtManager,
		Authenticator: authenticator,
	})

	// Start, stop and backups hold the request open, so there is no write timeout
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.HTTP.TLS.Enabled && cfg.HTTP.TLS.SelfSigned {
		if err := tlscert.EnsureSelfSigned(cfg.HTTP.TLS.CertFile, cfg.HTTP.TLS.KeyFile, cfg.HTTP.Host); err != nil {
			log.Fatalf("Failed to prepare self-signed certificate: %v", err)
		}
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on %s", httpServer.Addr)

		var err error
		if cfg.HTTP.TLS.Enabled {
			err = httpServer.ListenAndServeTLS(cfg.HTTP.TLS.CertFile, cfg.HTTP.TLS.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.StopTimeout+30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}

	scheduler.Stop(shutdownCtx)
	metricsCollector.Stop()

	// The game server never outlives the manager
	log.Println("Stopping game server...")
	exit, err := lifecycleManager.StopServer(shutdownCtx, false)
	if err != nil {
		log.Printf("Failed to stop game server: %v", err)
	} else if exit.WasRunning {
		activityLogger.Record(logging.ActivityServerStop, "system", "Server stopped on shutdown", nil, map[string]any{
			"exit_code": exit.ExitCode,
			"forced":    exit.Forced,
		})
	}

	session.Stop()
	cancel()

	log.Println("Server exited")
}

func newConsoleSession(cfg *config.Config, db *database.DB, supervisor *server.Supervisor, hub *websocket.Hub) (*console.Session, *console.LogWriter, error) {
	consoleCfg := cfg.Game.Console
	sessionCfg := console.SessionConfig{BufferLines: consoleCfg.BufferLines}

	if consoleCfg.LogFile != "" {
		logWriter, err := console.NewLogWriter(console.LogWriterConfig{
			Path:       consoleCfg.LogFile,
			MaxSizeMB:  consoleCfg.LogMaxSize,
			MaxBackups: consoleCfg.LogMaxBackups,
			MaxAgeDays: consoleCfg.LogMaxAge,
		})
		if err != nil {
			return nil, nil, err
		}
		sessionCfg.LogWriter = logWriter
	}
	if consoleCfg.HistoryEnabled {
		sessionCfg.History = console.NewCommandHistory(db.DB)
	}

	return console.NewSession(supervisor, hub, sessionCfg), sessionCfg.LogWriter, nil
}

func setupLogging(cfg *config.Config) error {
	if cfg != nil && strings.TrimSpace(cfg.Logging.File) == "" {
		dataDir := cfg.Storage.DataDir
		if dataDir == "" {
			dataDir = "./data"
		}
		cfg.Logging.File = filepath.Join(dataDir, "logs", "server.log")
	}
	if cfg != nil && strings.TrimSpace(cfg.Logging.File) != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			return err
		}
	}
	_, err := logging.Init(cfg.Logging)
	return err
}

// runMigrations handles "migrate [up|down|status]"
func runMigrations(cfg *config.Config, action string) {
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	switch action {
	case "up":
	case "down":
		log.Println("Rolling back last migration...")
		if err := db.Rollback(); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("Rollback completed successfully")
		return
	case "status":
		status, err := db.Status()
		if err != nil {
			log.Fatalf("Failed to read migration status: %v", err)
		}
		for _, m := range status {
			state := "pending"
			if m.Applied {
				state = "applied"
			}
			fmt.Printf("%-24s %s\n", m.Version, state)
		}
		return
	default:
		log.Fatalf("Unknown migrate action %q (use up, down or status)", action)
	}

	log.Println("Running database migrations...")
	if err := db.Migrate(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("Migrations completed successfully")
}
