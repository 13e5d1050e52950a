// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLevel overrides the configured level when set.
const EnvLevel = "ATLASAPPROX_LOG_LEVEL"

// ParseLevel maps a level name to a zerolog level. "off" and "0" disable
// logging, "full" is an alias of debug, anything unknown is info.
func ParseLevel(s string) zerolog.Level {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "off", "0", "disabled":
		return zerolog.Disabled
	case "full", "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Setup sets the global level and returns a logger writing to w. Format
// "console" selects human-readable output; anything else is JSON.
func Setup(level, format string, w io.Writer) zerolog.Logger {
	if env := os.Getenv(EnvLevel); env != "" {
		level = env
	}
	zerolog.SetGlobalLevel(ParseLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339

	if w == nil {
		w = os.Stderr
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	logger := zerolog.New(w).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
