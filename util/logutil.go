package util

import (
	"log/slog"
	"os"
	"strings"
)

// InitSlog installs the process-wide text logger. The LOG_LEVEL environment
// variable selects the level (debug, info, warn, error); unset or
// unrecognized values mean info. Debug level also turns on the parameter
// and SQL dumps in the server.
func InitSlog() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
