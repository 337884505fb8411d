package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/scribblesense/scribblesense/internal/config"
)

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	return slog.New(newHandler(cfg.Format, logOutput(cfg.Output), opts))
}

// logOutput resolves stdout, stderr or a file path. An unusable file falls
// back to stdout.
func logOutput(output string) io.Writer {
	switch output {
	case "stderr":
		return os.Stderr
	case "stdout", "":
		return os.Stdout
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", output, err)
			return os.Stdout
		}
		return file
	}
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
