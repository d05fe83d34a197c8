// Package logging sets up the process-wide zerolog logger and the
// component-tagged child loggers the run command (which hands its logger to
// the driver as Run.Log) and the report server use, replacing the teacher's
// bracketed
// log.Printf("[Tag] ...") convention with structured fields.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the base logger. verbose switches the minimum level from Info
// to Debug, mirroring the CLI's --verbose flag.
func New(verbose bool, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Component returns a child logger tagged the way the teacher tags its
// log.Printf("[DB] ...")/log.Printf("[OHLCVCache] ...") lines, via a
// structured field instead of a string prefix.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
