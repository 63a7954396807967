package logger

import "context"

// Logger defines the interface for structured logging with context support.
// Every component in the explorer takes one of these; jobs derive a child
// logger carrying job_id and device_id so all step logs can be correlated.
type Logger interface {
	// Debug logs a debug-level message with optional fields
	Debug(ctx context.Context, msg string, fields map[string]interface{})

	// Info logs an info-level message with optional fields
	Info(ctx context.Context, msg string, fields map[string]interface{})

	// Warn logs a warning-level message with optional fields
	Warn(ctx context.Context, msg string, fields map[string]interface{})

	// Error logs an error-level message with optional fields
	Error(ctx context.Context, msg string, fields map[string]interface{})

	// WithField returns a new logger with the given field added to all subsequent log entries
	WithField(key string, value interface{}) Logger

	// WithFields returns a new logger with the given fields added to all subsequent log entries
	WithFields(fields map[string]interface{}) Logger
}

// Noop returns a logger that discards everything.
func Noop() Logger {
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, map[string]interface{}) {}
func (noopLogger) Info(context.Context, string, map[string]interface{})  {}
func (noopLogger) Warn(context.Context, string, map[string]interface{})  {}
func (noopLogger) Error(context.Context, string, map[string]interface{}) {}
func (n noopLogger) WithField(string, interface{}) Logger                { return n }
func (n noopLogger) WithFields(map[string]interface{}) Logger            { return n }
