package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"slices"
)

// LocalDestination keeps archives in a directory on this host, usually storage.backup_dir
type LocalDestination struct {
	dir string
}

func NewLocalDestination(dir string) *LocalDestination {
	return &LocalDestination{dir: dir}
}

// path confines name to the destination directory
func (ld *LocalDestination) path(name string) string {
	return filepath.Join(ld.dir, filepath.Base(name))
}

// Upload writes to a .part file first so List never sees a half written archive
func (ld *LocalDestination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	if err := os.MkdirAll(ld.dir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	dest := ld.path(filename)
	part := dest + ".part"
	log.Printf("[LocalDest] Storing %s (%d bytes)", dest, sizeBytes)

	if err := writeExactly(part, reader, sizeBytes); err != nil {
		os.Remove(part)
		return err
	}
	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to finalize backup file: %w", err)
	}
	return nil
}

func writeExactly(path string, reader io.Reader, sizeBytes int64) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	written, err := io.Copy(file, reader)
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	if written != sizeBytes {
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}
	return nil
}

func (ld *LocalDestination) Download(filename string, writer io.Writer) error {
	file, err := os.Open(ld.path(filename))
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}
	return nil
}

// Delete removes an archive. A file that is already gone is not an error.
func (ld *LocalDestination) Delete(filename string) error {
	err := os.Remove(ld.path(filename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete backup file: %w", err)
	}
	return nil
}

// List returns the stored archives, oldest first. A missing directory is empty.
func (ld *LocalDestination) List() ([]BackupFile, error) {
	entries, err := os.ReadDir(ld.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []BackupFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	files := []BackupFile{}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isArchiveName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	slices.SortFunc(files, func(a, b BackupFile) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return files, nil
}

func (ld *LocalDestination) GetType() string {
	return "local"
}

func (ld *LocalDestination) Close() error {
	return nil
}

// Exists reports whether a finished archive is stored under filename
func (ld *LocalDestination) Exists(filename string) bool {
	info, err := os.Stat(ld.path(filename))
	return err == nil && info.Mode().IsRegular()
}
