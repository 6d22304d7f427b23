package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "modernc.org/sqlite"
)

const defaultMaxConns = 10

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// NewDB opens dbPath with the default connection limit
func NewDB(dbPath string) (*DB, error) {
	return Open(dbPath, defaultMaxConns)
}

// Open creates the parent directory and opens the SQLite file with at most maxConns connections
func Open(dbPath string, maxConns int) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn, err := sqliteDSN(dbPath)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(min(maxConns, 5))

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", dbPath, err)
	}
	return &DB{db}, nil
}

// sqliteDSN builds a file URI that applies the pragmas on every pooled connection
func sqliteDSN(dbPath string) (string, error) {
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve database path: %w", err)
	}
	pragmas := []string{
		"foreign_keys(ON)",
		"busy_timeout(5000)",
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
	}
	return "file:" + filepath.ToSlash(absPath) + "?_pragma=" + strings.Join(pragmas, "&_pragma="), nil
}

// MigrationStatus reports one known migration and whether it has been applied
type MigrationStatus struct {
	Version string
	Applied bool
}

// Status lists every known migration in order
func (db *DB) Status() ([]MigrationStatus, error) {
	if err := db.ensureMigrationsTable(); err != nil {
		return nil, err
	}
	applied, err := db.appliedVersions()
	if err != nil {
		return nil, err
	}

	status := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		status = append(status, MigrationStatus{Version: m.Version, Applied: slices.Contains(applied, m.Version)})
	}
	return status, nil
}

// Migrate applies every pending migration in order, each in its own transaction
func (db *DB) Migrate() error {
	if err := db.ensureMigrationsTable(); err != nil {
		return err
	}
	applied, err := db.appliedVersions()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if slices.Contains(applied, m.Version) {
			continue
		}
		err := db.inTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.Up); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
			}
			if _, err := tx.Exec("INSERT INTO migrations (version, applied_at) VALUES (?, datetime('now'))", m.Version); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.Printf("[Database] Applied migration: %s", m.Version)
	}
	return nil
}

// Rollback reverts the most recently applied migration. It is a no-op on an empty database.
func (db *DB) Rollback() error {
	if err := db.ensureMigrationsTable(); err != nil {
		return err
	}
	applied, err := db.appliedVersions()
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}

	version := applied[len(applied)-1]
	idx := slices.IndexFunc(migrations, func(m Migration) bool { return m.Version == version })
	if idx < 0 {
		return fmt.Errorf("unknown migration %s", version)
	}

	err = db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(migrations[idx].Down); err != nil {
			return fmt.Errorf("failed to roll back migration %s: %w", version, err)
		}
		if _, err := tx.Exec("DELETE FROM migrations WHERE version = ?", version); err != nil {
			return fmt.Errorf("failed to unrecord migration %s: %w", version, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("[Database] Rolled back migration: %s", version)
	return nil
}

func (db *DB) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("[Database] Failed to roll back transaction: %v", rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (db *DB) ensureMigrationsTable() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL
		)
	`)
	return err
}

// appliedVersions returns the applied versions sorted. Versions carry a numeric
// prefix, so this is also the order they were applied in.
func (db *DB) appliedVersions() ([]string, error) {
	rows, err := db.Query("SELECT version FROM migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}
