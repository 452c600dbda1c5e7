// Package logging provides the structured logger shared by every binary in
// this repository.
package logging

import (
	"log/slog"
	"os"
)

// New creates a JSON structured logger bound to a service name. Every
// component receives its logger via constructor injection rather than a
// package-level global, so it can be swapped for a test logger.
func New(serviceName string) *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler).With(slog.String("service", serviceName))
}

func parseLevel(raw string) slog.Level {
	switch raw {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
