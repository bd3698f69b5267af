package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel converts a level name to a LogLevel, defaulting to InfoLevel
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l LogLevel) toSlogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger provides structured JSON logging using stdlib slog
type Logger struct {
	logger *slog.Logger
	level  LogLevel
}

// NewLogger creates a new structured logger using slog
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: level.toSlogLevel(),
	})

	return &Logger{
		logger: slog.New(handler),
		level:  level,
	}
}

// Discard returns a logger that drops every message
func Discard() *Logger {
	return NewLogger(ErrorLevel, io.Discard)
}

// Level returns the minimum level the logger emits
func (l *Logger) Level() LogLevel {
	return l.level
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{
		logger: l.logger.With(key, value),
		level:  l.level,
	}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{
		logger: l.logger.With(args...),
		level:  l.level,
	}
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(message string) {
	l.logger.Debug(message)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Info(message string) {
	l.logger.Info(message)
}

func (l *Logger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(message string) {
	l.logger.Warn(message)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(message string) {
	l.logger.Error(message)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

type contextKey string

const (
	// CommitIDKey is the context key for the commit being processed
	CommitIDKey contextKey = "commit_id"
	// UnitOfWorkKey is the context key for the unit of work identity
	UnitOfWorkKey contextKey = "uow_id"
	// LoggerKey is the context key for the logger
	LoggerKey contextKey = "logger"
)

// WithCommitID adds a commit ID to the context
func WithCommitID(ctx context.Context, commitID string) context.Context {
	return context.WithValue(ctx, CommitIDKey, commitID)
}

// GetCommitID retrieves the commit ID from context
func GetCommitID(ctx context.Context) string {
	if id, ok := ctx.Value(CommitIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUnitOfWorkID adds a unit of work ID to the context
func WithUnitOfWorkID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UnitOfWorkKey, id)
}

// GetUnitOfWorkID retrieves the unit of work ID from context
func GetUnitOfWorkID(ctx context.Context) string {
	if id, ok := ctx.Value(UnitOfWorkKey).(string); ok {
		return id
	}
	return ""
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetLogger retrieves the logger from context. Library code logs nothing
// unless the caller installed a logger.
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerKey).(*Logger); ok && logger != nil {
		return logger
	}
	return Discard()
}

// FromContext returns the context logger with the commit and unit of work IDs attached
func FromContext(ctx context.Context) *Logger {
	logger := GetLogger(ctx)

	if id := GetCommitID(ctx); id != "" {
		logger = logger.WithField("commit_id", id)
	}
	if id := GetUnitOfWorkID(ctx); id != "" {
		logger = logger.WithField("uow_id", id)
	}

	return logger
}
