// Package logging configures the process-wide structured logger, adapted
// unchanged in shape from the teacher's libs/go/core/logging/logging.go
// (JSON vs text slog.Handler selection, level from a string, one
// package-level Init), switched from the teacher's env-var-only selection
// to explicit parameters so cmd/picoflow can resolve --log-format/--log-level
// flags and PICOFLOW_LOG_FORMAT/PICOFLOW_LOG_LEVEL env vars (§6.3) through
// viper before calling in.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// LevelTrace is one step more verbose than slog.LevelDebug; the teacher has
// no equivalent, but §6.2's --log-level flag names "trace" alongside the
// four standard slog levels.
const LevelTrace = slog.Level(-8)

// Init installs the process-wide slog handler and returns the logger.
// format is "json" or "pretty" (anything else falls back to pretty/text,
// matching the teacher's "anything not 1/true/json is text" default).
func Init(service, format, level string) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{AddSource: false, Level: parseLevel(level)}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "format", format, "level", level)
	return logger
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}
