package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// parseLevel maps a config string onto a slog level. Unknown values fall back
// to info so a typo in logging.level never silences the daemon.
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

// SetupLogger installs the process-wide slog default from the logging config
// block. format "json" selects the JSON handler for log shippers; anything
// else gets the text handler for a terminal. The daemon logs to stdout only;
// file rotation is the supervisor's job.
//
// Installing the default means the watcher, providers, and monitor all log
// through slog.Info/Warn/Error without threading a *slog.Logger around.
func SetupLogger(format, level string) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger configured", "format", format, "level", lvl.String())
}
