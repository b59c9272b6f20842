// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"
)

// Setup installs the process-wide slog logger.
//
// Console records go to stderr through a tint handler, keeping stdout free
// for command output. When logFile is non-empty, records are additionally
// appended to that file as JSON. quiet raises the console threshold to the
// error level without affecting the file handler.
func Setup(levelStr, logFile string, quiet bool) error {
	level := parseLevel(levelStr)

	consoleLevel := level
	if quiet {
		consoleLevel = slog.LevelError
	}
	console := tint.NewHandler(os.Stderr, &tint.Options{Level: consoleLevel})

	if logFile == "" {
		slog.SetDefault(slog.New(console))
		return nil
	}

	path := os.ExpandEnv(logFile)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})

	slog.SetDefault(slog.New(slogmulti.Fanout(console, fileHandler)))

	return nil
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
