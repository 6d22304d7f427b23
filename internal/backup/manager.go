package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZakirC4/papermc-setup/internal/config"
	"github.com/ZakirC4/papermc-setup/internal/server"
)

// Backup statuses stored in the backups table
const (
	StatusCreating  = "creating"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusDeleted   = "deleted"
)

var (
	// ErrBackupInProgress is returned when a backup is requested while another one runs
	ErrBackupInProgress = errors.New("backup already in progress")
	// ErrBackupNotFound is returned for unknown backup IDs
	ErrBackupNotFound = errors.New("backup not found")
	// ErrServerRunning is returned when a restore is attempted while the server runs
	ErrServerRunning = errors.New("server must be stopped to restore a backup")
)

// ServerControl is the part of the supervisor backups need to quiesce world saves
type ServerControl interface {
	CurrentState() server.State
	SendCommand(text string) error
	SendAndAwaitAck(text string, predicate func(line string) bool, timeout time.Duration) error
}

// BackupRecord represents a backup record in the database
type BackupRecord struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename"`
	SizeBytes       int64     `json:"size_bytes"`
	CreatedAt       time.Time `json:"created_at"`
	DestinationType string    `json:"destination_type"`
	DestinationPath string    `json:"destination_path"`
	Status          string    `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedBy       string    `json:"created_by,omitempty"`
}

// BackupManager orchestrates backup operations
type BackupManager struct {
	db             *sql.DB
	cfg            config.BackupConfig
	destConfig     *DestinationConfig
	archiveHandler *ArchiveHandler
	serverDir      string
	stagingDir     string
	server         ServerControl
	ackPattern     string
	ackTimeout     time.Duration

	openDestination func(*DestinationConfig) (Destination, error)

	running sync.Mutex
}

// NewBackupManager creates a new backup manager. srv may be nil when no server is supervised.
func NewBackupManager(cfg *config.Config, db *sql.DB, srv ServerControl) *BackupManager {
	ackPattern := cfg.Game.SaveAckPattern
	if ackPattern == "" {
		ackPattern = "Saved the game"
	}
	return &BackupManager{
		db:              db,
		cfg:             cfg.Backups,
		destConfig:      NewDestinationConfig(cfg),
		archiveHandler:  NewArchiveHandler(cfg.Storage.ServerDir),
		serverDir:       cfg.Storage.ServerDir,
		stagingDir:      filepath.Join(cfg.Storage.DataDir, "backup-staging"),
		server:          srv,
		ackPattern:      ackPattern,
		ackTimeout:      cfg.Game.SaveTimeoutDuration(),
		openDestination: NewDestination,
	}
}

// CreateBackup archives the world directories and uploads the archive to the destination.
// A running server is switched to save-off and flushed first, and save-on is always restored.
func (bm *BackupManager) CreateBackup(ctx context.Context, createdBy string) (*BackupRecord, error) {
	if !bm.running.TryLock() {
		return nil, ErrBackupInProgress
	}
	defer bm.running.Unlock()

	record := &BackupRecord{
		ID:              "backup-" + uuid.New().String()[:8],
		Status:          StatusCreating,
		CreatedAt:       time.Now(),
		DestinationType: bm.destinationType(),
		DestinationPath: bm.destConfig.Location(),
		CreatedBy:       createdBy,
	}
	log.Printf("[BackupMgr] Creating backup %s", record.ID)

	if err := bm.saveBackupRecord(record); err != nil {
		return nil, fmt.Errorf("failed to save backup record: %w", err)
	}

	if err := bm.createBackup(ctx, record); err != nil {
		record.Status = StatusFailed
		record.ErrorMessage = err.Error()
		if saveErr := bm.saveBackupRecord(record); saveErr != nil {
			log.Printf("[BackupMgr] Warning: Failed to update backup status: %v", saveErr)
		}
		return record, err
	}

	record.Status = StatusCompleted
	if err := bm.saveBackupRecord(record); err != nil {
		log.Printf("[BackupMgr] Warning: Failed to update backup status: %v", err)
	}

	log.Printf("[BackupMgr] Backup %s created successfully: %s (%d bytes)", record.ID, record.Filename, record.SizeBytes)

	if err := bm.EnforceRetention(bm.cfg.Retention.Count); err != nil {
		log.Printf("[BackupMgr] Retention enforcement failed: %v", err)
	}
	return record, nil
}

func (bm *BackupManager) createBackup(ctx context.Context, record *BackupRecord) error {
	resume, err := bm.quiesce()
	if err != nil {
		return err
	}
	archiveInfo, err := func() (*ArchiveInfo, error) {
		defer resume()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return bm.archiveHandler.CreateArchive(bm.cfg.Directories, bm.cfg.Exclude, bm.stagingDir, bm.cfg.Compression)
	}()
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer os.Remove(archiveInfo.Path)

	record.Filename = archiveInfo.Filename
	record.SizeBytes = archiveInfo.SizeBytes

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := bm.transferToDestination(archiveInfo); err != nil {
		return fmt.Errorf("failed to transfer backup: %w", err)
	}
	return nil
}

// quiesce stops autosave and flushes the world on a running server. The returned func re-enables autosave.
func (bm *BackupManager) quiesce() (func(), error) {
	noop := func() {}
	if bm.server == nil || bm.server.CurrentState() != server.StateRunning {
		return noop, nil
	}

	if err := bm.server.SendCommand("save-off"); err != nil {
		if errors.Is(err, server.ErrNotRunning) {
			return noop, nil
		}
		return noop, fmt.Errorf("failed to disable autosave: %w", err)
	}

	resume := func() {
		if err := bm.server.SendCommand("save-on"); err != nil && !errors.Is(err, server.ErrNotRunning) {
			log.Printf("[BackupMgr] Warning: Failed to re-enable autosave: %v", err)
		}
	}

	ack := func(line string) bool { return strings.Contains(line, bm.ackPattern) }
	if err := bm.server.SendAndAwaitAck("save-all flush", ack, bm.ackTimeout); err != nil {
		resume()
		return noop, fmt.Errorf("failed to flush world before backup: %w", err)
	}
	return resume, nil
}

func (bm *BackupManager) destinationType() string {
	if bm.destConfig.Type == "" {
		return "local"
	}
	return bm.destConfig.Type
}

// transferToDestination uploads the staged archive to the configured destination
func (bm *BackupManager) transferToDestination(archiveInfo *ArchiveInfo) error {
	log.Printf("[BackupMgr] Transferring backup to %s destination", bm.destinationType())

	dest, err := bm.openDestination(bm.destConfig)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	defer dest.Close()

	file, err := os.Open(archiveInfo.Path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	return dest.Upload(archiveInfo.Filename, file, archiveInfo.SizeBytes)
}

// RestoreBackup downloads a backup and extracts it over the server directory.
// The server must be stopped.
func (bm *BackupManager) RestoreBackup(backupID string) error {
	if bm.server != nil && bm.server.CurrentState() != server.StateStopped {
		return ErrServerRunning
	}

	record, err := bm.GetBackup(backupID)
	if err != nil {
		return err
	}
	if record.Status != StatusCompleted {
		return fmt.Errorf("backup is not in completed state: %s", record.Status)
	}

	log.Printf("[BackupMgr] Restoring backup %s to %s", backupID, bm.serverDir)

	dest, err := bm.openDestination(bm.destConfig)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	defer dest.Close()

	if err := os.MkdirAll(bm.stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	tempPath := filepath.Join(bm.stagingDir, "restore_"+record.Filename)
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create restore file: %w", err)
	}
	defer os.Remove(tempPath)

	err = dest.Download(record.Filename, tempFile)
	if closeErr := tempFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to download backup: %w", err)
	}

	if err := bm.archiveHandler.ExtractArchive(tempPath, bm.serverDir); err != nil {
		return fmt.Errorf("failed to extract archive: %w", err)
	}

	log.Printf("[BackupMgr] Backup %s restored successfully", backupID)
	return nil
}

// DeleteBackup removes a backup from its destination and marks the record deleted
func (bm *BackupManager) DeleteBackup(backupID string) error {
	record, err := bm.GetBackup(backupID)
	if err != nil {
		return err
	}

	log.Printf("[BackupMgr] Deleting backup %s", backupID)

	if record.Filename != "" {
		dest, err := bm.openDestination(bm.destConfig)
		if err != nil {
			return fmt.Errorf("failed to create destination: %w", err)
		}
		if err := dest.Delete(record.Filename); err != nil {
			log.Printf("[BackupMgr] Warning: Failed to delete from destination: %v", err)
		}
		dest.Close()
	}

	record.Status = StatusDeleted
	if err := bm.saveBackupRecord(record); err != nil {
		return fmt.Errorf("failed to update backup record: %w", err)
	}
	return nil
}

// ListBackups returns backups that have not been deleted, newest first
func (bm *BackupManager) ListBackups(limit int) ([]*BackupRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := bm.db.Query(`
		SELECT id, filename, size_bytes, created_at, destination_type,
		       destination_path, status, error_message, created_by
		FROM backups
		WHERE status != ?
		ORDER BY created_at DESC
		LIMIT ?
	`, StatusDeleted, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	backups := []*BackupRecord{}
	for rows.Next() {
		record, err := scanBackupRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup record: %w", err)
		}
		backups = append(backups, record)
	}
	return backups, rows.Err()
}

// GetBackup retrieves a specific backup
func (bm *BackupManager) GetBackup(backupID string) (*BackupRecord, error) {
	row := bm.db.QueryRow(`
		SELECT id, filename, size_bytes, created_at, destination_type,
		       destination_path, status, error_message, created_by
		FROM backups
		WHERE id = ?
	`, backupID)

	record, err := scanBackupRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, backupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query backup: %w", err)
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackupRecord(row rowScanner) (*BackupRecord, error) {
	record := &BackupRecord{}
	var errorMsg, createdBy sql.NullString
	err := row.Scan(
		&record.ID,
		&record.Filename,
		&record.SizeBytes,
		&record.CreatedAt,
		&record.DestinationType,
		&record.DestinationPath,
		&record.Status,
		&errorMsg,
		&createdBy,
	)
	if err != nil {
		return nil, err
	}
	record.ErrorMessage = errorMsg.String
	record.CreatedBy = createdBy.String
	return record, nil
}

// saveBackupRecord saves or updates a backup record
func (bm *BackupManager) saveBackupRecord(record *BackupRecord) error {
	_, err := bm.db.Exec(`
		INSERT OR REPLACE INTO backups
		(id, filename, size_bytes, created_at, destination_type,
		 destination_path, status, error_message, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.Filename,
		record.SizeBytes,
		record.CreatedAt,
		record.DestinationType,
		record.DestinationPath,
		record.Status,
		record.ErrorMessage,
		record.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save backup record: %w", err)
	}
	return nil
}

// EnforceRetention deletes completed backups beyond the newest retentionCount.
// Zero or negative keeps everything.
func (bm *BackupManager) EnforceRetention(retentionCount int) error {
	if retentionCount <= 0 {
		return nil
	}

	rows, err := bm.db.Query(`
		SELECT id FROM backups
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT -1 OFFSET ?
	`, StatusCompleted, retentionCount)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		expired = append(expired, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	deleted := 0
	for _, id := range expired {
		if err := bm.DeleteBackup(id); err != nil {
			log.Printf("[Retention] Error deleting backup %s: %v", id, err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		log.Printf("[Retention] Deleted %d backups beyond retention of %d", deleted, retentionCount)
	}
	return nil
}
