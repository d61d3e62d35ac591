// Package logging configures the structured logger shared by every component.
// Logs always go to stdout; when an OTLP logger provider is configured they are
// mirrored to it through the otelslog bridge.
package logging

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
)

// Logger wraps slog.Logger with context helpers.
type Logger struct {
	*slog.Logger
}

// Config holds logging configuration.
type Config struct {
	Level          string // debug, info, warn, error
	Format         string // json, text
	LoggerProvider *sdklog.LoggerProvider
}

// New builds a logger from configuration.
func New(cfg Config) *Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelError,
	}

	var stdout slog.Handler
	if cfg.Format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	handler := stdout
	if cfg.LoggerProvider != nil {
		bridge := otelslog.NewHandler("relgraph", otelslog.WithLoggerProvider(cfg.LoggerProvider))
		handler = teeHandler{handlers: []slog.Handler{stdout, bridge}}
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithComponent returns a logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.With(slog.String("component", name))}
}

// WithRequestID returns a logger tagged with the request ID.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{Logger: l.With(slog.String("request_id", requestID))}
}

// teeHandler fans one record out to several handlers.
type teeHandler struct {
	handlers []slog.Handler
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range t.handlers {
		if h.Enabled(ctx, record.Level) {
			if err := h.Handle(ctx, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return teeHandler{handlers: next}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithGroup(name)
	}
	return teeHandler{handlers: next}
}

// FromContext retrieves the request logger, or the default logger.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
		return logger
	}
	return &Logger{Logger: slog.Default()}
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// RequestID retrieves the request ID from the context, or "".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID stores a request ID in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
