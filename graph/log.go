package graph

import "log/slog"

var log = slog.Default()

// SetLogger replaces the package logger.
func SetLogger(l *slog.Logger) {
	log = l
}
