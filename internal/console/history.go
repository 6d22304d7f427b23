package console

import (
	"database/sql"
	"fmt"
	"time"
)

// CommandRecord represents a command history record
type CommandRecord struct {
	ID           int64     `json:"id"`
	InstanceID   string    `json:"instance_id,omitempty"`
	Username     string    `json:"username"`
	Command      string    `json:"command"`
	ExecutedAt   time.Time `json:"executed_at"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// CommandHistory provides command history management
type CommandHistory struct {
	db *sql.DB
}

// NewCommandHistory creates a new command history manager
func NewCommandHistory(db *sql.DB) *CommandHistory {
	return &CommandHistory{db: db}
}

// Record stores one executed command. A non-nil cmdErr marks it failed.
func (ch *CommandHistory) Record(instanceID, username, command string, cmdErr error) error {
	if ch == nil || ch.db == nil {
		return nil
	}

	var errMsg sql.NullString
	if cmdErr != nil {
		errMsg = sql.NullString{String: cmdErr.Error(), Valid: true}
	}

	_, err := ch.db.Exec(`
		INSERT INTO console_commands (instance_id, username, command, executed_at, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, instanceID, username, command, time.Now(), cmdErr == nil, errMsg)
	if err != nil {
		return fmt.Errorf("failed to save command history: %w", err)
	}
	return nil
}

// GetRecentCommands returns the most recent commands
func (ch *CommandHistory) GetRecentCommands(limit int) ([]CommandRecord, error) {
	return ch.query(`WHERE 1=1`, nil, limit)
}

// GetUserCommands returns commands executed by a specific user
func (ch *CommandHistory) GetUserCommands(username string, limit int) ([]CommandRecord, error) {
	return ch.query(`WHERE username = ?`, []any{username}, limit)
}

// SearchCommands searches command history
func (ch *CommandHistory) SearchCommands(query string, limit int) ([]CommandRecord, error) {
	return ch.query(`WHERE command LIKE ?`, []any{"%" + query + "%"}, limit)
}

// GetAutocomplete returns autocomplete suggestions from command history
func (ch *CommandHistory) GetAutocomplete(prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := ch.db.Query(`
		SELECT command
		FROM console_commands
		WHERE command LIKE ? AND success = 1
		GROUP BY command
		ORDER BY MAX(executed_at) DESC
		LIMIT ?
	`, prefix+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suggestions := []string{}
	for rows.Next() {
		var cmd string
		if err := rows.Scan(&cmd); err != nil {
			return nil, err
		}
		suggestions = append(suggestions, cmd)
	}

	return suggestions, rows.Err()
}

func (ch *CommandHistory) query(where string, args []any, limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := ch.db.Query(`
		SELECT id, instance_id, username, command, executed_at, success, error_message
		FROM console_commands
		`+where+`
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	commands := []CommandRecord{}
	for rows.Next() {
		var cmd CommandRecord
		var instanceID, errMsg sql.NullString
		if err := rows.Scan(&cmd.ID, &instanceID, &cmd.Username, &cmd.Command, &cmd.ExecutedAt, &cmd.Success, &errMsg); err != nil {
			return nil, err
		}
		cmd.InstanceID = instanceID.String
		cmd.ErrorMessage = errMsg.String
		commands = append(commands, cmd)
	}

	return commands, rows.Err()
}
