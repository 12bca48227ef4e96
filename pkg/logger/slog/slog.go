// Package slog adapts a log/slog handler to the vmrepo logger interface.
package slog

import (
	"context"
	"log/slog"
)

// Logger forwards to an slog.Logger.
type Logger struct {
	logger *slog.Logger
}

func New(h slog.Handler) *Logger {
	return &Logger{logger: slog.New(h)}
}

// With returns a logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

// WithGroup returns a logger that nests the args of every record under name.
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{logger: l.logger.WithGroup(name)}
}

// Enabled reports whether records of level reach the handler.
func (l *Logger) Enabled(level slog.Level) bool {
	return l.logger.Enabled(context.Background(), level)
}

func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}
