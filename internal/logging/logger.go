// Package logging builds the phuslu/log logger shared by every queue component.
package logging

import (
	"io"
	"os"

	"github.com/phuslu/log"
)

// New returns a logger writing to stderr. format is "json" or "console".
func New(level, format string) *log.Logger {
	var writer log.Writer
	if format == "json" {
		writer = &log.IOWriter{Writer: os.Stderr}
	} else {
		writer = &log.ConsoleWriter{
			ColorOutput:    log.IsTerminal(os.Stderr.Fd()),
			QuoteString:    true,
			EndWithMessage: true,
			Writer:         os.Stderr,
		}
	}
	return &log.Logger{
		Level:      log.ParseLevel(level),
		TimeFormat: "15:04:05",
		Writer:     writer,
	}
}

// Discard is a logger that drops everything, used by tests and by callers that pass nil.
func Discard() *log.Logger {
	return &log.Logger{
		Level:  log.PanicLevel,
		Writer: &log.IOWriter{Writer: io.Discard},
	}
}

// OrDiscard returns logger, or Discard when logger is nil.
func OrDiscard(logger *log.Logger) *log.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}
