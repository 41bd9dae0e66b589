package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hmgle/sourcewatch/internal/config"
)

// Logger interface for logging functionality
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// StandardLogger implements Logger on top of one or more slog handlers:
// a colored console handler and an optional rotating system log file.
type StandardLogger struct {
	loggers []*slog.Logger
	closers []io.Closer
}

// New creates a console logger on stdout.
func New(verbose bool) Logger {
	level := config.LogLevelInfo
	if verbose {
		level = config.LogLevelDebug
	}
	return NewStandard(os.Stdout, level, "")
}

// NewStandard creates a logger writing to console (nil disables it) and,
// when logFile is set, to a size-rotated file.
func NewStandard(console io.Writer, level config.LogLevel, logFile string) *StandardLogger {
	lvl := ParseLevel(level)
	l := &StandardLogger{}

	if console != nil {
		_, isFile := console.(*os.File)
		l.loggers = append(l.loggers, slog.New(tint.NewHandler(console, &tint.Options{
			Level:      lvl,
			TimeFormat: "15:04:05",
			NoColor:    !isFile,
		})))
	}

	if logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		l.loggers = append(l.loggers, slog.New(slog.NewTextHandler(rotator, &slog.HandlerOptions{Level: lvl})))
		l.closers = append(l.closers, rotator)
	}

	return l
}

// ParseLevel maps a configured level onto slog.
func ParseLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs debug messages
func (l *StandardLogger) Debug(format string, args ...interface{}) {
	l.logWithLevel(slog.LevelDebug, format, args...)
}

// Info logs informational messages
func (l *StandardLogger) Info(format string, args ...interface{}) {
	l.logWithLevel(slog.LevelInfo, format, args...)
}

// Warn logs warning messages
func (l *StandardLogger) Warn(format string, args ...interface{}) {
	l.logWithLevel(slog.LevelWarn, format, args...)
}

// Error logs error messages
func (l *StandardLogger) Error(format string, args ...interface{}) {
	l.logWithLevel(slog.LevelError, format, args...)
}

// Close releases the system log file, if any.
func (l *StandardLogger) Close() error {
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.closers = nil
	return firstErr
}

func (l *StandardLogger) logWithLevel(level slog.Level, format string, args ...interface{}) {
	if len(l.loggers) == 0 {
		return
	}
	ctx := context.Background()
	message := fmt.Sprintf(format, args...)
	for _, lg := range l.loggers {
		if lg.Enabled(ctx, level) {
			lg.Log(ctx, level, message)
		}
	}
}
