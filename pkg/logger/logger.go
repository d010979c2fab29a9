// Package logger provides structured logging for agentcore components
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/armorclaw/agentcore/pkg/errors"
)

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
	once         sync.Once
)

// Version is stamped into every log line
var Version = "0.4.0"

// Logger wraps slog.Logger with component tracking
type Logger struct {
	*slog.Logger
	component string

	// base carries service attributes only; tags are the request scoped
	// attributes added after the component
	base *slog.Logger
	tags []any
}

// Config holds logger configuration
type Config struct {
	Level     string    // debug, info, warn, error
	Format    string    // "json" or "text"
	Output    string    // "stdout", "stderr", or file path
	Component string    // Component name for logs
	Writer    io.Writer // Overrides Output when set
}

// ParseLevel maps a level name to slog. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// New creates a new logger instance
func New(cfg Config) (*Logger, error) {
	writer := cfg.Writer
	if writer == nil {
		output := cfg.Output
		if output == "" {
			output = "stdout"
		}

		switch output {
		case "stdout":
			writer = os.Stdout
		case "stderr":
			writer = os.Stderr
		default:
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
			file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file: %w", err)
			}
			writer = file
		}
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	component := cfg.Component
	if component == "" {
		component = "agentcore"
	}

	base := slog.New(handler).With(
		"service", "agentcore",
		"version", Version,
	)

	return &Logger{
		Logger:    base.With("component", component),
		component: component,
		base:      base,
	}, nil
}

// Initialize sets up the process logger. Only the first call has effect.
func Initialize(level, format, output string) error {
	var initErr error
	once.Do(func() {
		if format == "" {
			format = "text"
		}

		l, err := New(Config{
			Level:     level,
			Format:    format,
			Output:    output,
			Component: "agentcore",
		})
		if err != nil {
			initErr = fmt.Errorf("failed to initialize logger: %w", err)
			return
		}

		SetGlobal(l)
		l.Info("logger initialized", "level", level, "format", format, "output", output)
	})
	return initErr
}

// SetGlobal replaces the process logger
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Global returns the process logger, or a stdout text logger before Initialize.
func Global() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}
	fallback, _ := New(Config{Level: "info", Format: "text", Output: "stdout"})
	return fallback
}

// Or returns l, or the process logger when l is nil.
func Or(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return Global()
}

// Component returns the component name
func (l *Logger) Component() string {
	return l.component
}

// WithComponent returns a new logger whose component replaces the current
// one. Correlation and session tags are kept.
func (l *Logger) WithComponent(component string) *Logger {
	if l.base == nil {
		return &Logger{Logger: l.Logger.With("component", component), component: component}
	}
	return &Logger{
		Logger:    l.base.With("component", component).With(l.tags...),
		component: component,
		base:      l.base,
		tags:      l.tags,
	}
}

// WithCorrelationID returns a new logger tagged with a correlation id
func (l *Logger) WithCorrelationID(id string) *Logger {
	return l.withTag("correlation_id", id)
}

// WithSessionID returns a new logger tagged with a session id
func (l *Logger) WithSessionID(sessionID string) *Logger {
	return l.withTag("session_id", sessionID)
}

func (l *Logger) withTag(key, value string) *Logger {
	tags := make([]any, 0, len(l.tags)+2)
	tags = append(append(tags, l.tags...), key, value)
	return &Logger{
		Logger:    l.Logger.With(key, value),
		component: l.component,
		base:      l.base,
		tags:      tags,
	}
}

// ErrorEvent logs err with its type. AgentErrors contribute kind, severity,
// origin and code.
func (l *Logger) ErrorEvent(ctx context.Context, message string, err error, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("error_type", fmt.Sprintf("%T", err)),
	}
	if ae, ok := errors.As(err); ok {
		base = append(base, AgentErrorAttrs(ae)...)
	}
	l.LogAttrs(ctx, slog.LevelError, message, append(base, attrs...)...)
}

// AgentErrorAttrs renders the identifying fields of an AgentError
func AgentErrorAttrs(e *errors.AgentError) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("kind", string(e.Kind)),
		slog.String("severity", string(e.Severity)),
		slog.Bool("retryable", e.Retryable()),
	}
	if e.Origin != "" {
		attrs = append(attrs, slog.String("origin", e.Origin))
	}
	if e.Code != "" {
		attrs = append(attrs, slog.String("code", e.Code))
	}
	if e.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", e.CorrelationID))
	}
	return attrs
}

// Info logs an info message on the process logger
func Info(msg string, args ...any) {
	Global().Info(msg, args...)
}

// Warn logs a warning message on the process logger
func Warn(msg string, args ...any) {
	Global().Warn(msg, args...)
}

// Error logs an error message on the process logger
func Error(msg string, args ...any) {
	Global().Error(msg, args...)
}

// Debug logs a debug message on the process logger
func Debug(msg string, args ...any) {
	Global().Debug(msg, args...)
}
