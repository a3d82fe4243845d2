package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
)

// Logger defines a minimal, printf-style logging contract.
//
// Every package in the daemon depends on this interface rather than on slog
// directly so tests can pass Nop() and call sites stay printf-shaped.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// Config configures the process-wide slog handler behind component loggers.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

var (
	baseMu sync.RWMutex
	base   = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// Configure replaces the handler used by every component logger created
// afterwards and by those created before (they resolve the base lazily).
func Configure(cfg Config) {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(cfg.Level)) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	baseMu.Lock()
	base = slog.New(handler)
	baseMu.Unlock()
}

func baseLogger() *slog.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

type componentLogger struct {
	component string
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{component: component}
}

func (l *componentLogger) emit(level slog.Level, format string, args []any) {
	logger := baseLogger()
	if !logger.Enabled(context.Background(), level) {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	logger.Log(context.Background(), level, redact(msg), "component", l.component)
}

func (l *componentLogger) Debug(format string, args ...any) { l.emit(slog.LevelDebug, format, args) }
func (l *componentLogger) Info(format string, args ...any)  { l.emit(slog.LevelInfo, format, args) }
func (l *componentLogger) Warn(format string, args ...any)  { l.emit(slog.LevelWarn, format, args) }
func (l *componentLogger) Error(format string, args ...any) { l.emit(slog.LevelError, format, args) }

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if IsNil(logger) {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	if len(flattened) == 0 {
		return Nop()
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}
