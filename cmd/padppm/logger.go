package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LogLevel is a user-facing log level name.
type LogLevel string

const (
	LogLevelError LogLevel = "error"
	LogLevelWarn  LogLevel = "warn"
	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
)

// parseLogLevel accepts error, warn (or warning), info and debug, case-insensitively.
func parseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be error, warn, info, or debug)", level)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// setupLogger returns a text logger writing to w.
func setupLogger(level LogLevel, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.slogLevel()}))
}
