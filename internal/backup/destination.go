package backup

import (
	"fmt"
	"io"
	"time"

	"github.com/ZakirC4/papermc-setup/internal/config"
)

// Destination represents a backup storage destination
type Destination interface {
	// Upload stores sizeBytes read from reader under filename
	Upload(filename string, reader io.Reader, sizeBytes int64) error

	// Download writes a stored file to writer
	Download(filename string, writer io.Writer) error

	// Delete removes a stored file
	Delete(filename string) error

	// List returns all stored backup files
	List() ([]BackupFile, error)

	// GetType returns the destination type identifier
	GetType() string

	// Close releases any connection held by the destination
	Close() error
}

// BackupFile represents a file in a backup destination
type BackupFile struct {
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// DestinationConfig contains configuration for a backup destination
type DestinationConfig struct {
	config.BackupDestination

	KnownHostsPath  string
	TrustOnFirstUse bool
}

// NewDestinationConfig combines the backup destination with SSH trust settings
func NewDestinationConfig(cfg *config.Config) *DestinationConfig {
	return &DestinationConfig{
		BackupDestination: cfg.Backups.Destination,
		KnownHostsPath:    cfg.Security.SSH.KnownHostsPath,
		TrustOnFirstUse:   cfg.Security.SSH.TrustOnFirstUse,
	}
}

// Location describes where backups end up, for records and logs
func (dc *DestinationConfig) Location() string {
	switch dc.Type {
	case "s3":
		return fmt.Sprintf("s3://%s/%s", dc.Bucket, dc.PathPrefix)
	case "sftp":
		return fmt.Sprintf("sftp://%s@%s:%d%s", dc.Username, dc.Host, dc.Port, dc.Path)
	default:
		return dc.Path
	}
}

// NewDestination creates a new backup destination based on config
func NewDestination(cfg *DestinationConfig) (Destination, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalDestination(cfg.Path), nil
	case "sftp":
		return NewSFTPDestination(cfg)
	case "s3":
		return NewS3Destination(cfg)
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", cfg.Type)
	}
}
