package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ZakirC4/papermc-setup/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger    *slog.Logger
	initOnce  sync.Once
	logCloser io.Closer
	discard   = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// Init configures the global logger singleton and routes the std log package into it.
func Init(cfg config.LoggingConfig) (*slog.Logger, error) {
	var initErr error

	initOnce.Do(func() {
		output, closer, err := buildOutput(cfg, os.Stdout)
		if err != nil {
			initErr = err
			output = os.Stdout
		}
		logCloser = closer

		logger = New(cfg, output)
		slog.SetDefault(logger)
		log.SetFlags(0)
		log.SetOutput(slogWriter{logger: logger})
	})

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return logger, initErr
}

// New builds a logger writing to output with the format and level of cfg
func New(cfg config.LoggingConfig, output io.Writer) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(output, options))
	}
	return slog.New(slog.NewJSONHandler(output, options))
}

// L returns the configured logger, or a no-op logger if not initialized.
func L() *slog.Logger {
	if logger == nil {
		return discard
	}
	return logger
}

// Component returns L() tagged with a component attribute
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

// Close flushes and closes any logger resources.
func Close() error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

// slogWriter turns "[Component] message" lines from the std logger into records
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}

	if strings.HasPrefix(msg, "[") {
		if end := strings.Index(msg, "] "); end > 1 {
			component := msg[1:end]
			text := msg[end+2:]
			level := slog.LevelInfo
			lower := strings.ToLower(text)
			if strings.HasPrefix(lower, "warning") || strings.HasPrefix(lower, "warn") {
				level = slog.LevelWarn
			} else if strings.HasPrefix(lower, "error") || strings.HasPrefix(lower, "failed") {
				level = slog.LevelError
			}
			w.logger.Log(context.Background(), level, text, "component", component)
			return len(p), nil
		}
	}

	w.logger.Info(msg)
	return len(p), nil
}

func buildOutput(cfg config.LoggingConfig, console io.Writer) (io.Writer, io.Closer, error) {
	if strings.TrimSpace(cfg.File) == "" {
		return console, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	fileLogger := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}

	return io.MultiWriter(console, fileLogger), fileLogger, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
