package logging

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// New builds the process logger. Development gets the coloured text
// formatter, everything else emits JSON lines.
func New(appEnv, level string) *log.Logger {
	return NewWithWriter(os.Stderr, appEnv, level)
}

func NewWithWriter(w io.Writer, appEnv, level string) *log.Logger {
	opts := log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           parseLevel(level),
	}
	if appEnv != "development" {
		opts.Formatter = log.JSONFormatter
	}
	return log.NewWithOptions(w, opts)
}

func parseLevel(level string) log.Level {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return log.InfoLevel
	}
	return parsed
}

// Discard is used by tests and by library callers that do not care.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}
