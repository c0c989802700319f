// Package logging provides the storage engine's structured logger: a
// global zerolog.Logger plus per-component child loggers (backup, sync,
// verify, the storage façade), matching the logging style used throughout
// the rest of the corpus rather than a bespoke one for this module.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured by Init.
var Logger zerolog.Logger

// Level names one of the four log verbosities a CLI invocation can select.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config selects the global logger's verbosity and output encoding.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init (re)configures the global Logger. Called once at process startup
// by cmd/ebakup, before any storage operation runs.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func init() {
	Init(Config{Level: InfoLevel})
}

// WithComponent returns a child logger tagged with the engine component
// that owns a log line (e.g. "storage", "mirror", "contentindex").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithStorage returns a child logger tagged with the storage root a log
// line concerns, useful once a process has more than one Storage open
// (e.g. during sync, source and destination).
func WithStorage(component, root string) zerolog.Logger {
	return Logger.With().Str("component", component).Str("storage", root).Logger()
}
