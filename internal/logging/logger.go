// Package logging wraps log/slog with the request-scoped helpers used by the
// HTTP server, the endpoint engine and the CLI.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/sdk/log"
)

// InstrumentationScope names the otel logger records are bridged under.
const InstrumentationScope = "github.com/Saloed/GalaxyAPI"

type ctxKey int

const (
	loggerCtxKey ctxKey = iota
	requestIDCtxKey
)

// Logger is a *slog.Logger with field helpers that keep the wrapper type.
type Logger struct {
	*slog.Logger
}

// Config selects level, encoding and sinks.
type Config struct {
	Level          string // debug, info, warn, error
	Format         string // json, text
	LoggerProvider *log.LoggerProvider
	Output         io.Writer // stdout when nil
}

// ParseLevel maps a level name to a slog level. Unknown or empty names
// yield info; "warning" is accepted as an alias for warn.
func ParseLevel(name string) slog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger builds a logger writing to cfg.Output. When a LoggerProvider is
// set every record is also handed to the otel log pipeline.
func NewLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	handler := encodingHandler(cfg.Format, out, opts)
	if cfg.LoggerProvider != nil {
		bridge := otelslog.NewHandler(InstrumentationScope, otelslog.WithLoggerProvider(cfg.LoggerProvider))
		handler = fanout{handler, bridge}
	}
	return &Logger{Logger: slog.New(handler)}
}

func encodingHandler(format string, out io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

// fanout passes each record to every member handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) derive(fn func(slog.Handler) slog.Handler) fanout {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = fn(h)
	}
	return next
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithFields returns a child logger carrying the given key/value pairs.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{Logger: l.With(fields...)}
}

// WithRequestID returns a child logger tagged with request_id.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.WithFields(slog.String("request_id", requestID))
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// FromContext returns the logger stored in ctx, falling back to slog's
// default logger.
func FromContext(ctx context.Context) *Logger {
	return FromContextOr(ctx, &Logger{Logger: slog.Default()})
}

// FromContextOr returns the logger stored in ctx or fallback.
func FromContextOr(ctx context.Context, fallback *Logger) *Logger {
	if ctx == nil {
		return fallback
	}
	if logger, ok := ctx.Value(loggerCtxKey).(*Logger); ok && logger != nil {
		return logger
	}
	return fallback
}

// WithRequestIDContext stores the request ID in ctx.
func WithRequestIDContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey, requestID)
}

// GetRequestID returns the request ID stored in ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}
