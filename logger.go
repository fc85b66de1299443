package htmgo

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with htmgo-specific context.
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
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithRun adds the run ID to the logger.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("run", runID),
	}
}

// WithStage adds a stage name to the logger.
func (l *Logger) WithStage(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("stage", name),
	}
}

// LogCompute logs one region step.
func (l *Logger) LogCompute(ctx context.Context, activeColumns, bursting int, anomaly float64, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compute failed",
			"duration", duration,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "compute completed",
		"active_columns", activeColumns,
		"bursting", bursting,
		"anomaly", anomaly,
		"duration", duration,
	)
}

// LogStability logs a stability transition of the homeostatic controller.
func (l *Logger) LogStability(ctx context.Context, stable bool, numPatterns int, avgActiveColumns float64, totalInputs int) {
	l.InfoContext(ctx, "stability changed",
		"stable", stable,
		"patterns", numPatterns,
		"avg_active_columns", avgActiveColumns,
		"inputs_seen", totalInputs,
	)
}

// LogSnapshot logs a snapshot save.
func (l *Logger) LogSnapshot(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"name", name,
		)
	}
}

// LogRestore logs a region restored from a snapshot.
func (l *Logger) LogRestore(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "restore failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "region restored",
			"name", name,
		)
	}
}

// LogPartitionFailure logs a partition that could not be reached.
func (l *Logger) LogPartitionFailure(ctx context.Context, partition int, node string, err error) {
	l.WarnContext(ctx, "partition unavailable",
		"partition", partition,
		"node", node,
		"error", err,
	)
}
