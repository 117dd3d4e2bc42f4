package maildedup

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with maildedup-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogProcess logs one pass through the classification pipeline.
func (l *Logger) LogProcess(ctx context.Context, from string, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "process failed",
			"from", from,
			"duration", duration,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "process completed",
			"from", from,
			"duration", duration,
		)
	}
}

// LogCommit logs a committed novel email.
func (l *Logger) LogCommit(ctx context.Context, id uint64, requestType string, confidence float64) {
	l.InfoContext(ctx, "entry committed",
		"id", id,
		"request_type", requestType,
		"confidence", confidence,
	)
}

// LogDuplicate logs a resolved duplicate.
func (l *Logger) LogDuplicate(ctx context.Context, matchID uint64, similarity float64) {
	l.InfoContext(ctx, "duplicate resolved",
		"match_id", matchID,
		"similarity", similarity,
	)
}

// LogSnapshot logs a snapshot save.
func (l *Logger) LogSnapshot(ctx context.Context, name string, entries int, err error) {
	if err != nil {
		l.WarnContext(ctx, "snapshot failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"name", name,
			"entries", entries,
		)
	}
}

// LogRestore logs a snapshot restore.
func (l *Logger) LogRestore(ctx context.Context, entries int, nextID uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot discarded",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "restore completed",
			"entries", entries,
			"next_id", nextID,
		)
	}
}

// LogClear logs a state reset.
func (l *Logger) LogClear(ctx context.Context, removed int) {
	l.InfoContext(ctx, "state cleared",
		"removed", removed,
	)
}
