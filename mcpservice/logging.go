package mcpservice

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ggoodman/litemcp/mcp"
)

var (
	// ErrInvalidLoggingLevel indicates the provided level is not one of the
	// protocol-defined LoggingLevel values.
	ErrInvalidLoggingLevel = errors.New("invalid logging level")
	// ErrAlreadyBound is returned when binding a Logger a second time.
	ErrAlreadyBound = errors.New("logger already bound")
)

// Notifier delivers a server-to-client notification. Transports implement it.
type Notifier interface {
	Notify(ctx context.Context, method mcp.Method, params any) error
}

// Logger forwards diagnostic messages to the connected client as
// notifications/message. It is created unbound and is a silent no-op until
// Bind attaches it to a transport. Messages logged before binding are
// dropped, not buffered.
type Logger struct {
	mu       sync.RWMutex
	notifier Notifier
	minLevel mcp.LoggingLevel
	levelVar *slog.LevelVar
	log      *slog.Logger
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithLoggerSlog sets the operational logger used to report delivery failures.
func WithLoggerSlog(l *slog.Logger) LoggerOption {
	return func(lg *Logger) {
		if l != nil {
			lg.log = l
		}
	}
}

// WithLevelVar ties logging/setLevel to a slog.LevelVar so the client's
// chosen level also governs the process's own slog output.
func WithLevelVar(lv *slog.LevelVar) LoggerOption {
	return func(lg *Logger) { lg.levelVar = lv }
}

// NewLogger returns an unbound Logger.
func NewLogger(opts ...LoggerOption) *Logger {
	l := &Logger{
		minLevel: mcp.LoggingLevelDebug,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Bind attaches the logger to n. It may be called once.
func (l *Logger) Bind(n Notifier) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.notifier != nil {
		return ErrAlreadyBound
	}
	l.notifier = n
	return nil
}

// Bound reports whether Bind has been called.
func (l *Logger) Bound() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.notifier != nil
}

// SetLevel sets the minimum level forwarded to the client.
func (l *Logger) SetLevel(level mcp.LoggingLevel) error {
	if !mcp.IsValidLoggingLevel(level) {
		return ErrInvalidLoggingLevel
	}
	l.mu.Lock()
	l.minLevel = level
	lv := l.levelVar
	l.mu.Unlock()
	if lv != nil {
		lv.Set(slogLevel(level))
	}
	return nil
}

// Level returns the current minimum level.
func (l *Logger) Level() mcp.LoggingLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.minLevel
}

// Debug logs at debug level. data is optional and may be nil.
func (l *Logger) Debug(message string, data any) {
	l.Log(context.Background(), mcp.LoggingLevelDebug, message, data)
}

// Info logs at info level.
func (l *Logger) Info(message string, data any) {
	l.Log(context.Background(), mcp.LoggingLevelInfo, message, data)
}

// Warn logs at warning level.
func (l *Logger) Warn(message string, data any) {
	l.Log(context.Background(), mcp.LoggingLevelWarning, message, data)
}

// Error logs at error level.
func (l *Logger) Error(message string, data any) {
	l.Log(context.Background(), mcp.LoggingLevelError, message, data)
}

// Log sends a single notifications/message with payload {message, context}.
// Delivery failures are reported on the operational logger and otherwise
// ignored.
func (l *Logger) Log(ctx context.Context, level mcp.LoggingLevel, message string, data any) {
	l.mu.RLock()
	n := l.notifier
	minLevel := l.minLevel
	l.mu.RUnlock()

	if n == nil || !level.AtLeast(minLevel) {
		return
	}

	params := mcp.LoggingMessageNotification{
		Level: level,
		Data:  mcp.LogData{Message: message, Context: data},
	}
	if err := n.Notify(ctx, mcp.LoggingMessageNotificationMethod, params); err != nil {
		l.log.WarnContext(ctx, "logger.notify.fail", slog.String("level", string(level)), slog.String("err", err.Error()))
	}
}

// slogLevel maps an MCP LoggingLevel to the nearest slog.Level.
func slogLevel(level mcp.LoggingLevel) slog.Level {
	switch level {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		return slog.LevelInfo
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// mcpLevel maps a slog.Level to an MCP LoggingLevel.
func mcpLevel(level slog.Level) mcp.LoggingLevel {
	switch {
	case level < slog.LevelInfo:
		return mcp.LoggingLevelDebug
	case level < slog.LevelWarn:
		return mcp.LoggingLevelInfo
	case level < slog.LevelError:
		return mcp.LoggingLevelWarning
	default:
		return mcp.LoggingLevelError
	}
}
