// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the *slog.Logger used by AVC binaries: a
// text handler on stderr and, when a file is configured, a JSON
// handler writing to a size-rotated log file.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures New.
type Config struct {
	// Level is debug, info, warn, or error. Empty means info.
	Level string

	// File receives JSON records. Empty disables the file.
	File string

	// MaxSizeMB and MaxBackups control rotation of File.
	MaxSizeMB  int
	MaxBackups int

	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

// ParseLevel parses a level name.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// New returns the logger and a closer for its log file. The closer is
// a no-op when no file is configured.
func New(config Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, nil, err
	}
	stderr := config.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	options := &slog.HandlerOptions{Level: level}

	handlers := []slog.Handler{slog.NewTextHandler(stderr, options)}
	var closer io.Closer = nopCloser{}
	if config.File != "" {
		if err := os.MkdirAll(filepath.Dir(config.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    max(config.MaxSizeMB, 1),
			MaxBackups: max(config.MaxBackups, 1),
		}
		handlers = append(handlers, slog.NewJSONHandler(file, options))
		closer = file
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closer, nil
	}
	return slog.New(fanout(handlers)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanout passes each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range f {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range f {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make(fanout, len(f))
	for i, handler := range f {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return handlers
}

func (f fanout) WithGroup(name string) slog.Handler {
	handlers := make(fanout, len(f))
	for i, handler := range f {
		handlers[i] = handler.WithGroup(name)
	}
	return handlers
}
