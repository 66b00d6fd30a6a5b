// Package logging builds the loggers used across the player.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New creates a [log.Logger] writing to w with timestamps enabled and the
// given level applied. The writer defaults to [os.Stderr]; an empty or
// unknown level falls back to info.
func New(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true}
	l := log.NewWithOptions(w, opts)
	l.SetLevel(ParseLevel(level))
	return l
}

// ParseLevel maps a config level string to a [log.Level], defaulting to info.
func ParseLevel(level string) log.Level {
	if level == "" {
		return log.InfoLevel
	}
	ll, err := log.ParseLevel(level)
	if err != nil {
		return log.InfoLevel
	}
	return ll
}

// Nop returns a logger that discards everything, for tests and optional
// components.
func Nop() *log.Logger {
	return log.New(io.Discard)
}
