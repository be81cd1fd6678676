// Package fdblog provides the structured logging sink used throughout
// the record layer, grounded on the same rs/zerolog wrapping style
// the broader retrieval pack uses for its own service logging.
package fdblog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger; it writes console output to stderr
// until it is replaced or reconfigured by Init. WithComponent copies
// Logger at the moment it is called: the container and migrations
// packages take their component loggers at package initialization, so
// replacing Logger or calling Init afterwards does not change their
// output, while build and autosave call WithComponent on each use.
var Logger zerolog.Logger

func init() {
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

// Config controls Init.
type Config struct {
	JSONOutput bool
	Output     io.Writer
	Level      zerolog.Level
}

// Init reconfigures the package logger.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var l zerolog.Logger
	if cfg.JSONOutput {
		l = zerolog.New(out).With().Timestamp().Logger()
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	if cfg.Level != 0 {
		l = l.Level(cfg.Level)
	}
	Logger = l
}

// WithComponent returns a child logger tagged with the given component
// name, e.g. fdblog.WithComponent("build") before a batch loop.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
