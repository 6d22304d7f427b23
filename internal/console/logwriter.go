package console

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogWriter appends timestamped console lines to a size-rotated log file
type LogWriter struct {
	out *lumberjack.Logger
	mu  sync.Mutex
	now func() time.Time
}

// LogWriterConfig contains configuration for log writer
type LogWriterConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogWriter creates a new log writer
func NewLogWriter(config LogWriterConfig) (*LogWriter, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("console log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	lw := &LogWriter{
		out: &lumberjack.Logger{
			Filename:   config.Path,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   true,
		},
		now: time.Now,
	}

	log.Printf("[LogWriter] Writing console log to %s", config.Path)
	return lw, nil
}

// WriteLine writes a line to the log file
func (lw *LogWriter) WriteLine(line string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	timestamp := lw.now().Format("2006-01-02 15:04:05")
	if _, err := fmt.Fprintf(lw.out, "[%s] %s\n", timestamp, line); err != nil {
		return fmt.Errorf("failed to write log: %w", err)
	}
	return nil
}

// Close closes the log file
func (lw *LogWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.out.Close()
}
