// Package logging configures the shared slog logger for cwarden.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Logger is the shared logger instance. Before Initialize it discards
// everything, so packages may log unconditionally.
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Initialize sets up the logger. With debug enabled and no file, logs go to
// stderr; with a file path, logs append there (the watch daemon uses this).
func Initialize(debug bool, logFile string) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o750); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		w = f
	} else if !debug {
		w = io.Discard
	}

	Logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return nil
}
