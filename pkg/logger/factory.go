// Package logger builds the logrus-backed utils.ExtendedLogger handed to
// every engine component by the CLI and server entry points.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Options controls where log lines go and how they are rendered.
type Options struct {
	// Level is a logrus level name ("debug", "info", "warn", ...).
	// Empty selects info.
	Level string
	// Format selects "text" (the default) or "json" rendering.
	Format string
	// File, when set, appends log lines to the given path, creating
	// parent directories as needed.
	File string
	// Stdout tees log lines to stdout in addition to File. With neither
	// File nor Stdout set, lines go to stderr.
	Stdout bool
}

// Logger satisfies utils.ExtendedLogger through the embedded entry, which
// stamps every line with the service field.
type Logger struct {
	*logrus.Entry
	closer io.Closer
}

// New builds a Logger from opts.
func New(opts Options) (*Logger, error) {
	core := logrus.New()

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	core.SetLevel(level)

	switch opts.Format {
	case "", "text":
		core.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	case "json":
		core.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	l := &Logger{}
	var sinks []io.Writer
	if opts.File != "" {
		f, err := openLogFile(opts.File)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, f)
		l.closer = f
	}
	if opts.Stdout {
		sinks = append(sinks, os.Stdout)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, os.Stderr)
	}
	core.SetOutput(io.MultiWriter(sinks...))

	l.Entry = core.WithField("service", "taskengine")
	return l, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %q: %w", path, err)
	}
	//nolint:gosec // G304: path comes from configuration, not untrusted input
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %q: %w", path, err)
	}
	return f, nil
}

// Close releases the log file, if one was opened.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
