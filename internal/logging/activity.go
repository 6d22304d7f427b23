package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ActivityLogger records operator-visible activities in the database and a JSON lines file
type ActivityLogger struct {
	db   *sql.DB
	file *lumberjack.Logger
	mu   sync.Mutex
}

// Activity represents a logged activity
type Activity struct {
	Timestamp    time.Time      `json:"timestamp"`
	Actor        string         `json:"actor,omitempty"`
	ActivityType string         `json:"activity_type"`
	Description  string         `json:"description"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Activity type constants
const (
	ActivityServerStart      = "server.start"
	ActivityServerStop       = "server.stop"
	ActivityServerRestart    = "server.restart"
	ActivityServerSave       = "server.save"
	ActivityServerExit       = "server.exit"
	ActivityCommandExecute   = "command.execute"
	ActivityPropertiesUpdate = "properties.update"
	ActivityDownload         = "download"
	ActivityBackupCreate     = "backup.create"
	ActivityBackupRestore    = "backup.restore"
	ActivityBackupDelete     = "backup.delete"
	ActivityLogin            = "auth.login"
	ActivityError            = "error"
)

// NewActivityLogger creates a new activity logger writing activity.log under logDir
func NewActivityLogger(db *sql.DB, logDir string) (*ActivityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger := &ActivityLogger{
		db: db,
		file: &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "activity.log"),
			MaxSize:    20,
			MaxBackups: 10,
			MaxAge:     90,
			Compress:   true,
		},
	}

	log.Printf("[ActivityLogger] Initialized (log directory: %s)", logDir)

	return logger, nil
}

// LogActivity logs an activity to both database and file
func (al *ActivityLogger) LogActivity(activity *Activity) error {
	if al == nil {
		return nil
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now()
	}

	// A database failure must not lose the file record
	if err := al.logToDatabase(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to database: %v", err)
	}

	if err := al.logToFile(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to file: %v", err)
		return err
	}

	return nil
}

// Record logs an activity of activityType on behalf of actor. A non-nil err marks it failed.
func (al *ActivityLogger) Record(activityType, actor, description string, err error, metadata map[string]any) error {
	activity := &Activity{
		Actor:        actor,
		ActivityType: activityType,
		Description:  description,
		Metadata:     metadata,
		Success:      err == nil,
	}
	if err != nil {
		activity.ErrorMessage = err.Error()
	}
	return al.LogActivity(activity)
}

// LogServerStop logs a server stop activity
func (al *ActivityLogger) LogServerStop(actor string, graceful bool, err error) error {
	return al.Record(ActivityServerStop, actor,
		fmt.Sprintf("Server stop initiated (graceful: %v)", graceful),
		err, map[string]any{"graceful": graceful})
}

// LogCommandExecute logs a console command execution
func (al *ActivityLogger) LogCommandExecute(actor, command string, err error) error {
	return al.Record(ActivityCommandExecute, actor,
		fmt.Sprintf("Command executed: %s", command),
		err, map[string]any{"command": command})
}

// GetActivities retrieves activities from the database, newest first
func (al *ActivityLogger) GetActivities(activityType string, since time.Time, limit int) ([]*Activity, error) {
	if al == nil || al.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT timestamp, actor, activity_type, description, metadata, success, error_message
		FROM activity_log
		WHERE 1=1
	`
	args := make([]any, 0)

	if activityType != "" {
		query += " AND activity_type = ?"
		args = append(args, activityType)
	}

	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := al.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	activities := make([]*Activity, 0)

	for rows.Next() {
		activity := &Activity{}
		var metadataJSON sql.NullString

		err := rows.Scan(
			&activity.Timestamp,
			&activity.Actor,
			&activity.ActivityType,
			&activity.Description,
			&metadataJSON,
			&activity.Success,
			&activity.ErrorMessage,
		)
		if err != nil {
			log.Printf("[ActivityLogger] Error scanning row: %v", err)
			continue
		}

		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &activity.Metadata); err != nil {
				log.Printf("[ActivityLogger] Error unmarshaling metadata: %v", err)
			}
		}

		activities = append(activities, activity)
	}

	return activities, rows.Err()
}

func (al *ActivityLogger) logToDatabase(activity *Activity) error {
	if al.db == nil {
		return nil
	}

	metadataJSON, err := json.Marshal(activity.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = al.db.Exec(`
		INSERT INTO activity_log (
			timestamp, actor, activity_type, description, metadata, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		activity.Timestamp,
		activity.Actor,
		activity.ActivityType,
		activity.Description,
		string(metadataJSON),
		activity.Success,
		activity.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}

	return nil
}

func (al *ActivityLogger) logToFile(activity *Activity) error {
	line, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	if _, err := al.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write to log file: %w", err)
	}
	return nil
}

// Close closes the activity log file
func (al *ActivityLogger) Close() error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.file.Close()
}

// CleanupOldActivities removes activities older than a specified duration
func (al *ActivityLogger) CleanupOldActivities(olderThan time.Duration) (int64, error) {
	if al == nil || al.db == nil {
		return 0, fmt.Errorf("database not available")
	}

	cutoff := time.Now().Add(-olderThan)
	result, err := al.db.Exec(`DELETE FROM activity_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old activities: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	log.Printf("[ActivityLogger] Cleaned up %d activities older than %v", rowsAffected, olderThan)

	return rowsAffected, nil
}
