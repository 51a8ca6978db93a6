// Package logging configures structured logging for claudevil.
//
// stdout is reserved for the MCP JSON-RPC transport; every log record goes
// to stderr instead.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// EnvLevel is the environment variable used to select the log level.
const EnvLevel = "CLAUDEVIL_LOG_LEVEL"

// Setup builds the default stderr logger and installs it as slog's default.
// level is one of "debug", "info", "warn", "error"; anything else falls
// back to "info".
func Setup(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// SetupFromEnv reads CLAUDEVIL_LOG_LEVEL and calls Setup.
func SetupFromEnv() *slog.Logger {
	return Setup(os.Getenv(EnvLevel))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
