package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ZakirC4/papermc-setup/internal/config"
	"github.com/ZakirC4/papermc-setup/internal/provision"
)

// ErrServerExitedDuringStartup is returned when the server stops before printing its ready line
var ErrServerExitedDuringStartup = errors.New("server exited during startup")

// LifecycleManager orchestrates server start/stop/restart operations on top of a Supervisor
type LifecycleManager struct {
	supervisor *Supervisor
	config     *ServerConfig
	db         *sql.DB

	ready atomic.Bool
}

// ServerConfig represents the configuration for starting a server
type ServerConfig struct {
	WorkingDir     string
	JavaPath       string
	Executable     string // server jar, launch script or binary, relative to WorkingDir
	JavaArgs       []string
	ServerArgs     []string
	StartupTimeout time.Duration
	ReadyPattern   string
	StopTimeout    time.Duration
	StopWarnings   []StopWarning
	SaveCommand    string
	SaveAckPattern string
	SaveTimeout    time.Duration
}

// StopWarning represents a warning message to send before shutdown
type StopWarning struct {
	Delay   time.Duration
	Message string
}

// Status is a point-in-time view of the managed server
type Status struct {
	State     string    `json:"state"`
	PID       int       `json:"pid,omitempty"`
	Ready     bool      `json:"ready"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	LastExit  *ExitInfo `json:"last_exit,omitempty"`
}

// RunRecord is one row of the server run history
type RunRecord struct {
	InstanceID string     `json:"instance_id"`
	PID        int        `json:"pid"`
	Command    string     `json:"command"`
	StartedAt  time.Time  `json:"started_at"`
	ExitedAt   *time.Time `json:"exited_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Forced     bool       `json:"forced"`
	Error      string     `json:"error,omitempty"`
}

// NewServerConfig creates a default server configuration for dir
func NewServerConfig(dir string) *ServerConfig {
	return &ServerConfig{
		WorkingDir:     dir,
		JavaPath:       "java",
		Executable:     "paper.jar",
		JavaArgs:       []string{"-Xmx2G", "-Xms2G"},
		ServerArgs:     []string{"nogui"},
		StartupTimeout: 120 * time.Second,
		ReadyPattern:   "Done (",
		StopTimeout:    60 * time.Second,
		SaveCommand:    "save-all",
		SaveAckPattern: "Saved the game",
		SaveTimeout:    30 * time.Second,
		StopWarnings: []StopWarning{
			{Delay: 0, Message: "Server shutting down in 10 seconds..."},
			{Delay: 10 * time.Second, Message: "Server shutting down now"},
		},
	}
}

// ServerConfigFromGame builds the launch settings for dir from the game section of the config file
func ServerConfigFromGame(dir string, game config.GameConfig) *ServerConfig {
	sc := &ServerConfig{
		WorkingDir:     dir,
		JavaPath:       game.JavaPath,
		Executable:     game.Executable,
		JavaArgs:       game.JavaArgs,
		ServerArgs:     game.ServerArgs,
		StartupTimeout: game.StartupTimeoutDuration(),
		ReadyPattern:   game.ReadyPattern,
		StopTimeout:    game.StopTimeoutDuration(),
		SaveCommand:    game.SaveCommand,
		SaveAckPattern: game.SaveAckPattern,
		SaveTimeout:    game.SaveTimeoutDuration(),
	}
	for _, w := range game.StopWarnings {
		sc.StopWarnings = append(sc.StopWarnings, StopWarning{Delay: w.WarningDelay(), Message: w.Message})
	}
	if sc.SaveCommand == "" {
		sc.SaveCommand = "save-all"
	}
	return sc
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(supervisor *Supervisor, config *ServerConfig, db *sql.DB) *LifecycleManager {
	return &LifecycleManager{
		supervisor: supervisor,
		config:     config,
		db:         db,
	}
}

// Supervisor returns the supervisor driving the server process
func (lm *LifecycleManager) Supervisor() *Supervisor {
	return lm.supervisor
}

// Config returns the server configuration
func (lm *LifecycleManager) Config() *ServerConfig {
	return lm.config
}

// BuildCommandLine constructs the argv used to launch the server
func BuildCommandLine(config *ServerConfig) []string {
	executable := config.Executable
	lower := strings.ToLower(executable)

	switch {
	case strings.HasSuffix(lower, ".jar"):
		java := config.JavaPath
		if java == "" {
			java = "java"
		}
		parts := []string{java}
		parts = append(parts, config.JavaArgs...)
		parts = append(parts, "-jar", executable)
		return append(parts, config.ServerArgs...)
	case strings.HasSuffix(lower, ".sh"):
		return append([]string{"sh", executable}, config.ServerArgs...)
	case strings.HasSuffix(lower, ".bat"), strings.HasSuffix(lower, ".cmd"):
		return append([]string{"cmd", "/c", executable}, config.ServerArgs...)
	}

	// Anything else is an executable run directly
	parts := []string{executable}
	return append(parts, config.ServerArgs...)
}

// EnsurePrereqs checks that the server directory is ready to launch
func EnsurePrereqs(config *ServerConfig) error {
	info, err := os.Stat(config.WorkingDir)
	if err != nil {
		return fmt.Errorf("working directory not found: %s", config.WorkingDir)
	}
	if !info.IsDir() {
		return fmt.Errorf("working directory is not a directory: %s", config.WorkingDir)
	}

	executable := config.Executable
	if executable == "" {
		return fmt.Errorf("no server executable configured")
	}
	if filepath.IsAbs(executable) || strings.ContainsRune(executable, filepath.Separator) || strings.Contains(executable, ".") {
		path := executable
		if !filepath.IsAbs(path) {
			path = filepath.Join(config.WorkingDir, path)
		}
		if _, err := os.Stat(path); err != nil {
			if strings.HasSuffix(strings.ToLower(executable), ".jar") {
				return fmt.Errorf("server jar not found: %s (download the server first)", path)
			}
			return fmt.Errorf("executable not found: %s", path)
		}
	} else if _, err := exec.LookPath(executable); err != nil {
		return fmt.Errorf("executable not found on PATH: %s", executable)
	}

	accepted, err := provision.EULAAccepted(config.WorkingDir)
	if err != nil {
		return fmt.Errorf("failed to read eula: %w", err)
	}
	if !accepted {
		return provision.ErrEULANotAccepted
	}
	return nil
}

// StartServer starts the game server and waits for its ready line.
// Startup that outlasts the timeout is logged and the server is left running.
func (lm *LifecycleManager) StartServer(ctx context.Context) (*Handle, error) {
	config := lm.config
	log.Printf("[Lifecycle] Starting server in %s...", config.WorkingDir)

	if err := EnsurePrereqs(config); err != nil {
		return nil, err
	}

	// Subscribe before spawning so the ready line cannot be missed
	sub := lm.supervisor.Subscribe()
	defer sub.Close()

	commandLine := BuildCommandLine(config)
	handle, err := lm.supervisor.Start(config.WorkingDir, commandLine)
	if err != nil {
		return nil, err
	}

	lm.ready.Store(false)
	lm.recordRunStart(handle)
	go lm.watchExit(handle)

	if config.ReadyPattern == "" || config.StartupTimeout <= 0 {
		return handle, nil
	}

	log.Printf("[Lifecycle] Waiting for server to start (timeout: %v)...", config.StartupTimeout)
	timer := time.NewTimer(config.StartupTimeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return handle, nil
			}
			if ev.InstanceID != handle.ID {
				continue
			}
			switch ev.Kind {
			case EventLine:
				if strings.Contains(ev.Line, config.ReadyPattern) {
					lm.ready.Store(true)
					log.Printf("[Lifecycle] Server started successfully in %v", time.Since(handle.StartedAt).Round(time.Millisecond))
					return handle, nil
				}
			case EventExit:
				code := -1
				if ev.Exit != nil {
					code = ev.Exit.ExitCode
				}
				return handle, fmt.Errorf("%w (exit code %d)", ErrServerExitedDuringStartup, code)
			}
		case <-timer.C:
			log.Printf("[Lifecycle] Server did not report ready within %v; leaving it running", config.StartupTimeout)
			return handle, nil
		case <-ctx.Done():
			return handle, ctx.Err()
		}
	}
}

// StopServer stops the game server. A graceful stop broadcasts the configured
// warnings first. Stopping a server that is not running returns its last exit.
func (lm *LifecycleManager) StopServer(ctx context.Context, graceful bool) (ExitInfo, error) {
	config := lm.config
	state := lm.supervisor.CurrentState()
	log.Printf("[Lifecycle] Stopping server (graceful: %v, state: %s)...", graceful, state)

	if graceful && state == StateRunning {
		for _, warning := range config.StopWarnings {
			if warning.Delay > 0 {
				select {
				case <-time.After(warning.Delay):
				case <-ctx.Done():
					return ExitInfo{}, ctx.Err()
				}
			}
			if warning.Message == "" {
				continue
			}
			log.Printf("[Lifecycle] Sending warning: %s", warning.Message)
			if err := lm.supervisor.SendCommand("say " + warning.Message); err != nil {
				log.Printf("[Lifecycle] Warning: Failed to send warning: %v", err)
				break
			}
		}
	}

	timeout := config.StopTimeout
	if !graceful {
		timeout = 0
	}

	exit, err := lm.supervisor.Stop(timeout)
	if err != nil {
		return exit, err
	}
	lm.ready.Store(false)
	switch {
	case !exit.WasRunning:
		log.Printf("[Lifecycle] Server was not running")
	case exit.Forced:
		log.Printf("[Lifecycle] Server stopped (forced)")
	default:
		log.Printf("[Lifecycle] Server stopped with exit code %d", exit.ExitCode)
	}
	return exit, nil
}

// RestartServer stops and starts the game server
func (lm *LifecycleManager) RestartServer(ctx context.Context, graceful bool) (*Handle, error) {
	log.Printf("[Lifecycle] Restarting server...")

	if _, err := lm.StopServer(ctx, graceful); err != nil {
		return nil, fmt.Errorf("failed to stop server: %w", err)
	}

	handle, err := lm.StartServer(ctx)
	if err != nil {
		return handle, fmt.Errorf("failed to start server: %w", err)
	}

	log.Printf("[Lifecycle] Server restarted successfully")
	return handle, nil
}

// SaveAll flushes the world to disk and waits for the server to confirm it
func (lm *LifecycleManager) SaveAll() error {
	config := lm.config
	pattern := config.SaveAckPattern
	err := lm.supervisor.SendAndAwaitAck(config.SaveCommand, func(line string) bool {
		return strings.Contains(line, pattern)
	}, config.SaveTimeout)
	if err != nil {
		return fmt.Errorf("save failed: %w", err)
	}
	return nil
}

// SendCommand sends a command to the running server
func (lm *LifecycleManager) SendCommand(command string) error {
	return lm.supervisor.SendCommand(command)
}

// Status returns the current server status
func (lm *LifecycleManager) Status() Status {
	sup := lm.supervisor
	status := Status{
		State: sup.CurrentState().String(),
		PID:   sup.PID(),
		Ready: lm.ready.Load() && sup.CurrentState() == StateRunning,
	}

	if started, ok := sup.StartedAt(); ok {
		status.StartedAt = started
		status.Uptime = time.Since(started).Round(time.Second).String()
	}
	if exit, ok := sup.LastExit(); ok {
		status.LastExit = &exit
	}
	return status
}

func (lm *LifecycleManager) watchExit(handle *Handle) {
	<-handle.Done()
	lm.ready.Store(false)

	exit, _ := handle.Exit()
	if !exit.Forced && exit.ExitCode != 0 {
		log.Printf("[Lifecycle] Server exited unexpectedly with code %d", exit.ExitCode)
	}
	if err := lm.recordRunExit(exit); err != nil {
		log.Printf("[Lifecycle] Warning: Failed to record run exit: %v", err)
	}
}

func (lm *LifecycleManager) recordRunStart(handle *Handle) {
	if lm.db == nil {
		return
	}

	_, err := lm.db.Exec(`
		INSERT INTO server_runs (instance_id, pid, command, working_dir, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, handle.ID, handle.PID, strings.Join(handle.CommandLine, " "), handle.WorkingDir, handle.StartedAt)
	if err != nil {
		log.Printf("[Lifecycle] Warning: Failed to record run start: %v", err)
	}
}

func (lm *LifecycleManager) recordRunExit(exit ExitInfo) error {
	if lm.db == nil {
		return nil
	}

	_, err := lm.db.Exec(`
		UPDATE server_runs
		SET exited_at = ?, exit_code = ?, forced = ?, error_message = ?
		WHERE instance_id = ?
	`, exit.ExitedAt, exit.ExitCode, exit.Forced, exit.Err, exit.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to update server run: %w", err)
	}
	return nil
}

// RecentRuns lists the most recent server runs, newest first
func (lm *LifecycleManager) RecentRuns(limit int) ([]RunRecord, error) {
	if lm.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := lm.db.Query(`
		SELECT instance_id, pid, command, started_at, exited_at, exit_code, forced, error_message
		FROM server_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query server runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		var exitedAt sql.NullTime
		var exitCode sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&run.InstanceID, &run.PID, &run.Command, &run.StartedAt, &exitedAt, &exitCode, &run.Forced, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan server run: %w", err)
		}
		if exitedAt.Valid {
			t := exitedAt.Time
			run.ExitedAt = &t
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			run.ExitCode = &code
		}
		run.Error = errMsg.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
