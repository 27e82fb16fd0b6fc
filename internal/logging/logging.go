// Package logging builds the process slog.Logger from configuration.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dshills/plughost/internal/config"
)

// ParseLevel parses a level name. Unknown names map to info.
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

// Output returns the writer named by cfg.Output. File outputs are
// rotated by lumberjack and must be closed by the caller.
func Output(cfg config.LoggingConfig) io.WriteCloser {
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		return nopCloser{os.Stderr}
	case "stdout":
		return nopCloser{os.Stdout}
	default:
		return &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}
}

// NewHandler returns a text or JSON handler writing to w.
func NewHandler(w io.Writer, cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// New builds a logger from cfg. The returned closer releases the output.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer) {
	out := Output(cfg)
	return slog.New(NewHandler(out, cfg)), out
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
