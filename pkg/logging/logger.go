// Package logging provides structured JSON logging for chauffeur components.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is a structured logger scoped to one component.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new structured logger writing JSON to stderr.
func NewLogger(component string, level slog.Level) *Logger {
	return NewLoggerTo(os.Stderr, component, level)
}

// NewLoggerTo creates a structured logger writing to the given destination.
func NewLoggerTo(w io.Writer, component string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(w, opts)

	logger := slog.New(handler).With(
		slog.String("component", component),
	)

	return &Logger{Logger: logger}
}

// ParseLevel maps a configuration string to a slog level. Unknown values
// default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// WithConnection returns a logger with connection-specific fields.
func (l *Logger) WithConnection(connectionID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("connection_id", connectionID),
		),
	}
}

// WithIteration returns a logger with task-loop iteration fields.
func (l *Logger) WithIteration(iteration int) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.Int("iteration", iteration),
		),
	}
}

// ChannelConnected logs a successful channel establishment.
func (l *Logger) ChannelConnected(wsURL string, elapsed time.Duration) {
	l.Info("channel connected",
		slog.String("ws_url", wsURL),
		slog.Float64("elapsed_ms", float64(elapsed.Milliseconds())),
	)
}

// ChannelClosed logs channel teardown and how many requests it failed.
func (l *Logger) ChannelClosed(pendingFailed int, err error) {
	attrs := []any{slog.Int("pending_failed", pendingFailed)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.Info("channel closed", attrs...)
}

// CommandTimeout logs a per-request timeout.
func (l *Logger) CommandTimeout(method string, timeout time.Duration) {
	l.Warn("command timeout",
		slog.String("method", method),
		slog.Duration("timeout", timeout),
	)
}

// DomainEnableFailed logs a tolerated handshake failure.
func (l *Logger) DomainEnableFailed(domain string, err error) {
	l.Warn("domain enable failed",
		slog.String("domain", domain),
		slog.String("error", err.Error()),
	)
}

// CallbackPanicked logs a recovered event callback failure.
func (l *Logger) CallbackPanicked(method string, recovered any) {
	l.Error("event callback panicked",
		slog.String("method", method),
		slog.Any("panic", recovered),
	)
}

// ActionExecuted logs one executed action and its outcome.
func (l *Logger) ActionExecuted(kind, status, message string) {
	l.Info("action executed",
		slog.String("action", kind),
		slog.String("status", status),
		slog.String("message", message),
	)
}

// StateCaptured logs one snapshot write.
func (l *Logger) StateCaptured(iteration int, url string) {
	l.Info("state captured",
		slog.Int("iteration", iteration),
		slog.String("url", url),
	)
}

// LoopTerminated logs the end of a task run.
func (l *Logger) LoopTerminated(reason string, iterations int) {
	l.Info("task loop terminated",
		slog.String("reason", reason),
		slog.Int("iterations", iterations),
	)
}
