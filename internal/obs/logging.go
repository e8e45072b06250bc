// Package obs wires up the ambient logging and OpenTelemetry stack shared
// by every component of a suite run, following the teacher's logging and
// otelinit packages.
package obs

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures a global slog logger. JSON if METASCHED_JSON_LOG is
// set to 1/true/json, else plain text — the format operators tail suite
// logs in.
func InitLogging(suiteName string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("METASCHED_JSON_LOG"))
	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}
	if mode == "1" || mode == "true" || mode == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With("suite", suiteName)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", mode == "1" || mode == "true" || mode == "json")
	return logger
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("METASCHED_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
