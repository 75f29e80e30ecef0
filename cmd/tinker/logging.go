package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// logFileName is the JSON log appended inside the settings directory.
const logFileName = "log.jsonl"

// newLogger builds the process logger: warnings and above rendered as
// text on stderr, everything appended as JSON lines under the settings
// directory. The returned func closes the log file.
func newLogger(settingsDir string) (*slog.Logger, func(), error) {
	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}

	logPath := filepath.Join(settingsDir, logFileName)
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger := slog.New(slogmulti.Fanout(handlers...))
	return logger, func() { file.Close() }, nil
}
