// Package logging configures the application's structured and human-readable
// loggers on top of log/slog.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var structuredLogger *slog.Logger
var humanReadableLogger *slog.Logger

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

// replaceLevelNames customizes level labels so TRACE and FATAL render by name.
func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		levelLabel, exists := levelNames[level]
		if !exists {
			levelLabel = level.String()
		}
		a.Value = slog.StringValue(levelLabel)
	}
	return a
}

// Init initializes the logging system with structured and human-readable loggers.
// Structured logs are JSON on stdout, human-readable logs are text on stderr.
func Init(level slog.Level) {
	structuredHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
	structuredLogger = slog.New(structuredHandler)

	humanReadableHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
	humanReadableLogger = slog.New(humanReadableHandler)

	slog.SetDefault(structuredLogger)
}

// Structured returns the globally configured structured (JSON) logger.
// Returns nil if Init() has not been called.
func Structured() *slog.Logger {
	return structuredLogger
}

// HumanReadable returns the globally configured human-readable (Text) logger.
func HumanReadable() *slog.Logger {
	return humanReadableLogger
}

// ForService creates a new logger instance with the 'service' attribute added.
// Falls back to the default slog logger when Init() has not been called, so
// package-level loggers created in init() remain usable in tests.
func ForService(serviceName string) *slog.Logger {
	if structuredLogger == nil {
		return slog.Default().With("service", serviceName)
	}
	return structuredLogger.With("service", serviceName)
}

// --- Convenience functions using the default logger ---

// Debug logs a debug message using the default slog logger.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Info logs an info message using the default slog logger.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs a warning message using the default slog logger.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs an error message using the default slog logger.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// Fatal logs a fatal message using the custom Fatal level and then exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs a trace message using the custom Trace level.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// InitFile routes the structured logger to a rotating file. Call after
// Init; service loggers created afterwards write to the file. The nodeName
// tags every record. The returned close function flushes the writer.
func InitFile(filePath, nodeName string, level slog.Level, rotation FileRotation) (func() error, error) {
	handler, closeFn, err := newFileHandler(filePath, level, rotation)
	if err != nil {
		return nil, err
	}
	logger := slog.New(handler)
	if nodeName != "" {
		logger = logger.With("node", nodeName)
	}
	structuredLogger = logger
	slog.SetDefault(logger)
	return closeFn, nil
}

// FileRotation controls rotation of file-backed loggers.
type FileRotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultFileRotation returns the rotation settings applied when the config
// leaves them unset.
func DefaultFileRotation() FileRotation {
	return FileRotation{
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// NewFileLogger creates a slog.Logger writing JSON logs to the given file,
// rotated by lumberjack. It includes a 'service' attribute in all records.
// It returns the logger, a close function for the underlying writer, and an
// error if setup fails.
func NewFileLogger(filePath, serviceName string, level slog.Level, rotation FileRotation) (*slog.Logger, func() error, error) {
	handler, closeFn, err := newFileHandler(filePath, level, rotation)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(handler).With("service", serviceName), closeFn, nil
}

func newFileHandler(filePath string, level slog.Level, rotation FileRotation) (slog.Handler, func() error, error) {
	// lumberjack does not create directories
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	defaults := DefaultFileRotation()
	if rotation.MaxSizeMB <= 0 {
		rotation.MaxSizeMB = defaults.MaxSizeMB
	}
	if rotation.MaxBackups <= 0 {
		rotation.MaxBackups = defaults.MaxBackups
	}
	if rotation.MaxAgeDays <= 0 {
		rotation.MaxAgeDays = defaults.MaxAgeDays
	}

	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
	}

	handler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
	return handler, logWriter.Close, nil
}
