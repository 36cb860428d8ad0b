// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"codeberg.org/oliverandrich/feedtools/internal/config"
)

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewHandler builds the handler for cfg writing to out. With a log file
// configured every record is written as JSON to out and the rotating file.
func NewHandler(cfg config.LogConfig, out io.Writer) (slog.Handler, io.Closer) {
	level := ParseLevel(cfg.Level)

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize, // megabytes
			MaxAge:     cfg.MaxAge,  // days
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		w := io.MultiWriter(out, rotator)
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), rotator
	}

	if cfg.Format == "json" {
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}), nopCloser{}
	}
	return tint.NewHandler(out, &tint.Options{Level: level}), nopCloser{}
}

// Setup installs the configured logger as slog default. The returned
// closer releases the log file, if any.
func Setup(cfg config.LogConfig) io.Closer {
	handler, closer := NewHandler(cfg, os.Stdout)
	slog.SetDefault(slog.New(handler))
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
