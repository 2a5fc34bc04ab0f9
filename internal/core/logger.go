package core

import "log/slog"

// Logger is the minimal structured logging surface the service emits to.
// Arguments follow the slog convention of alternating keys and values.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards everything; the default when no logger is configured.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SlogLogger adapts a *slog.Logger to the Logger interface.
type SlogLogger struct {
	L *slog.Logger
}

// Debug forwards to the wrapped slog logger.
func (s SlogLogger) Debug(msg string, args ...any) { s.L.Debug(msg, args...) }

// Info forwards to the wrapped slog logger.
func (s SlogLogger) Info(msg string, args ...any) { s.L.Info(msg, args...) }

// Warn forwards to the wrapped slog logger.
func (s SlogLogger) Warn(msg string, args ...any) { s.L.Warn(msg, args...) }

// Error forwards to the wrapped slog logger.
func (s SlogLogger) Error(msg string, args ...any) { s.L.Error(msg, args...) }
