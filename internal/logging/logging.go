// Package logging builds the logrus logger shared by the mount and the
// provenance tracker.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// TimestampFormat has millisecond resolution so request lines order
// within a second.
const TimestampFormat = "2006/01/02 15:04:05.000"

// Options selects level, format and destination.
type Options struct {
	Level  string
	Format string
	Output string
}

// New returns a logger configured from opts. Output is stdout, stderr
// or a file path opened for append.
func New(opts Options) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: TimestampFormat,
		})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: TimestampFormat})
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	out, err := openOutput(opts.Output)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(out)
	return logger, nil
}

// ParseLevel accepts logrus level names in any case; empty means info.
func ParseLevel(s string) (logrus.Level, error) {
	if s == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(strings.ToLower(s))
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
