// Package logging sets up tasktrack's charmbracelet/log loggers.
//
// Setup must run before New: child loggers copy the default logger's level
// and formatter when they are created.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Setup configures the default logger. level is one of debug, info, warn,
// error (unknown values fall back to info); format "json" selects the JSON
// formatter, anything else the text formatter. Output goes to stderr.
func Setup(level, format string) {
	log.SetLevel(ParseLevel(level))
	log.SetOutput(os.Stderr)
	log.SetReportTimestamp(true)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(log.JSONFormatter)
	case "logfmt":
		log.SetFormatter(log.LogfmtFormatter)
	default:
		log.SetFormatter(log.TextFormatter)
	}
}

// ParseLevel maps a level name to a log.Level.
func ParseLevel(level string) log.Level {
	l, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return log.InfoLevel
	}
	return l
}

// New creates a logger with the given component prefix.
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// SetOutput overrides the output writer for the default logger. Tests use it
// to capture output.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
