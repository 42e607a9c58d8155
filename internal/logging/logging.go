// Package logging installs and shapes the process-wide slog logger used by
// every cell-mesh component.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Format selects the slog handler backing the process-wide logger.
type Format string

const (
	// FormatText is human-readable, the default for interactive/daemon use.
	FormatText Format = "text"
	// FormatJSON is for log aggregation pipelines.
	FormatJSON Format = "json"
)

// Configure installs a process-wide slog default logger.
//
// Supported levels: debug, info, warn, error. An empty format defaults to text.
func Configure(level string, format Format) error {
	parsed, err := parseLevel(level)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: parsed}
	var h slog.Handler
	switch format {
	case FormatJSON:
		h = slog.NewJSONHandler(os.Stderr, opts)
	case "", FormatText:
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// Component returns a logger scoped to a single named component, matching
// the "component" attribute convention used throughout this codebase.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelWarn:
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}
