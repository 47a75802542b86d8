// Package netlog configures the proxy's structured logger: a timestamped,
// leveled console logger that plugins and internal components alike write
// component-prefixed lines to, with DEBUG/TRACE gated behind a config flag
// instead of always-on INFO/ERROR lines.
package netlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Base is the process-wide logger. Call Configure once at startup; every
// package in this module derives its own component logger from it via
// With("component", name).
var Base = zerolog.New(defaultWriter()).With().Timestamp().Logger()

func defaultWriter() io.Writer {
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	}
}

// Configure sets the process-wide minimum log level; Base keeps its
// console writer. levelName accepts the usual "debug"/"info"/"warn"
// strings; unrecognized values fall back to info (debug when debugEnabled)
// rather than rejecting the config outright.
func Configure(levelName string, debugEnabled bool) {
	level := zerolog.InfoLevel
	if debugEnabled {
		level = zerolog.DebugLevel
	}
	if parsed, err := zerolog.ParseLevel(levelName); err == nil {
		level = parsed
	}
	zerolog.SetGlobalLevel(level)
}

// For returns a component-scoped logger, e.g. For("client-half") yields
// lines tagged component=client-half.
func For(component string) zerolog.Logger {
	return Base.With().Str("component", component).Logger()
}

// WithSession returns a component-scoped logger additionally tagged with a
// session identifier, used once a connection has an assigned Session so log
// lines for one player's pipeline can be filtered out of the rest.
func WithSession(component, sessionID string) zerolog.Logger {
	return Base.With().Str("component", component).Str("session", sessionID).Logger()
}
