// Package logging builds the leveled logger shared by all components.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"cellmon/internal/config"
)

// New returns a logger writing to stderr and, when cfg.File is set, to a
// size rotated log file. verbose forces debug level. The returned closer
// releases the log file and is never nil.
func New(cfg config.LoggingConfig, verbose bool) (*log.Logger, io.Closer, error) {
	return newLogger(cfg, verbose, os.Stderr)
}

func newLogger(cfg config.LoggingConfig, verbose bool, console io.Writer) (*log.Logger, io.Closer, error) {
	level := log.InfoLevel
	if cfg.Level != "" {
		parsed, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	if verbose {
		level = log.DebugLevel
	}

	out := console
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		out = io.MultiWriter(console, rotated)
		closer = rotated
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
