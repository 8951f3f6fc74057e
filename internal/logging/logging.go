// file: internal/logging/logging.go
// version: 1.0.0
// guid: edcb0393-adb9-4b0c-978a-1a0e818abeb4

// Package logging builds the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// LogFileName is the file written under the configured log directory.
const LogFileName = "video-autoprocessor.log"

// Options controls logger construction.
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // console or json
	Dir    string // optional; enables the log file
	Stderr io.Writer
}

// New returns a logger writing to stderr and, when Dir is set, to
// <Dir>/video-autoprocessor.log. The returned closer releases the file.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	var console io.Writer
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		noColor := true
		if f, ok := stderr.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd())
		}
		console = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.DateTime, NoColor: noColor}
	case "json":
		console = stderr
	default:
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("unsupported log format %q", opts.Format)
	}

	writers := []io.Writer{console}
	var closer io.Closer = nopCloser{}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(filepath.Join(opts.Dir, LogFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, file)
		closer = file
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return logger, closer, nil
}

// ParseLevel maps a config string onto a zerolog level. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	if s == "warning" {
		s = "warn"
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Component derives a sub-logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
