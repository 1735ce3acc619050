package logging

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/time/rate"
)

// NewDefaultLogger creates a logger with default configuration using zap
func NewDefaultLogger() Logger {
	config := DefaultLogConfig()
	config.Level = ParseLevel(os.Getenv("LOG_LEVEL"))
	logger, err := NewZapLogger(config)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// InitGlobalLogger builds the process-wide logger from the service configuration
func InitGlobalLogger(level string, json bool) (Logger, error) {
	config := DefaultLogConfig()
	config.Level = ParseLevel(level)
	config.JSON = json

	logger, err := NewZapLogger(config)
	if err != nil {
		return nil, err
	}

	SetGlobalLogger(logger)
	logger.Info("Logger initialized",
		String("level", config.Level.String()),
		Bool("json", json),
	)
	return logger, nil
}

// MustSync flushes any buffered log entries for zap loggers.
// This should be called before application exit.
func MustSync() {
	if zapLogger, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = zapLogger.Sync()
	}
}

// WithContext is a convenience function to add context to the global logger
func WithContext(ctx context.Context) Logger {
	return GetGlobalLogger().WithContext(ctx)
}

// WithFields is a convenience function to add fields to the global logger
func WithFields(fields ...Field) Logger {
	return GetGlobalLogger().WithFields(fields...)
}

// ThrottledLogger drops Warn and Error entries once its limiter is exhausted.
// Fail-open paths log through it so an unreachable store cannot flood the output
// with one line per decision.
type ThrottledLogger struct {
	Logger
	limiter *rate.Limiter
}

// NewThrottledLogger wraps logger allowing perSecond warnings with the given burst
func NewThrottledLogger(logger Logger, perSecond float64, burst int) *ThrottledLogger {
	return &ThrottledLogger{
		Logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Warn logs a warning message if the limiter allows it
func (t *ThrottledLogger) Warn(msg string, fields ...Field) {
	if t.limiter.Allow() {
		t.Logger.Warn(msg, fields...)
	}
}

// Error logs an error message if the limiter allows it
func (t *ThrottledLogger) Error(msg string, err error, fields ...Field) {
	if t.limiter.Allow() {
		t.Logger.Error(msg, err, fields...)
	}
}

// WithFields keeps throttling on the derived logger
func (t *ThrottledLogger) WithFields(fields ...Field) Logger {
	return &ThrottledLogger{Logger: t.Logger.WithFields(fields...), limiter: t.limiter}
}

// WithContext keeps throttling on the derived logger
func (t *ThrottledLogger) WithContext(ctx context.Context) Logger {
	return &ThrottledLogger{Logger: t.Logger.WithContext(ctx), limiter: t.limiter}
}
