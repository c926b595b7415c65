// Package logging builds the process-wide base logger shared by the CLI,
// the reconciler, the DNS listeners, and the admin HTTP surface.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Base builds a zerolog.Logger with level/format applied per-call, tagged
// with app and the process's hostname so logs from several polyresolver
// instances behind the same aggregator stay distinguishable.
// format: json|console; level: debug|info|warn|error
func Base(app, level, format string) zerolog.Logger {
	lvl := parseLevel(level)
	w := writerForFormat(format)

	logger := zerolog.New(w).Level(lvl).With().Timestamp().Str("app", app)

	if host, err := os.Hostname(); err == nil {
		logger = logger.Str("host", host)
	}

	return logger.Logger()
}

func parseLevel(s string) zerolog.Level {
	// ParseLevel maps "" to NoLevel without an error; treat that as info too.
	if lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s))); err == nil && lvl != zerolog.NoLevel {
		return lvl
	}
	return zerolog.InfoLevel
}

func writerForFormat(format string) io.Writer {
	if strings.ToLower(format) == "console" {
		return zerolog.ConsoleWriter{Out: os.Stdout}
	}

	return os.Stdout
}
