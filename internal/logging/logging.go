// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, format and an optional rotating log file.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // text|json
	File   string // empty: stdout only
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to w and, when cfg.File is set, to a rotating
// file as well. The returned closer releases the file.
func New(cfg Config, w io.Writer) (*slog.Logger, io.Closer) {
	var closer io.Closer = io.NopCloser(nil)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     15, // days
			Compress:   true,
		}
		w = io.MultiWriter(w, lj)
		closer = lj
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer
}
