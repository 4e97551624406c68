// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for tau-daemon components.
//
// The logging system is built on log/slog with two extensions: optional
// file output under the daemon data directory, and a pluggable Exporter
// interface so a packaged build can ship log entries elsewhere without
// touching any call site.
//
// # Basic usage
//
//	logger := logging.Default()
//	logger.Info("daemon starting", "socket", socketPath)
//	logger.Error("lock claim failed", "path", path, "error", err)
//
// # File logging
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.tau/logs",
//	    Service: "daemon",
//	})
//	defer logger.Close()
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is a logging severity, independent of slog.Level so callers don't
// need to import log/slog just to configure a Logger.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogEntry is the shape handed to an Exporter.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Service string         `json:"service,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Exporter ships log entries somewhere besides stderr/file. The default
// is a no-op; enterprise or packaged builds can supply their own.
type Exporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// NopExporter discards everything. It is the default Exporter.
type NopExporter struct{}

func (NopExporter) Export(context.Context, LogEntry) error { return nil }
func (NopExporter) Flush(context.Context) error             { return nil }
func (NopExporter) Close() error                             { return nil }

// BufferedExporter keeps entries in memory, useful in tests that assert
// on what was logged.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewBufferedExporter() *BufferedExporter { return &BufferedExporter{} }

func (e *BufferedExporter) Export(_ context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *BufferedExporter) Flush(context.Context) error { return nil }
func (e *BufferedExporter) Close() error                 { return nil }

// Entries returns a snapshot of everything exported so far.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LogEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Config configures a Logger.
type Config struct {
	// Level is the minimum severity logged. Default: LevelInfo.
	Level Level

	// LogDir, if non-empty, also writes JSON lines to
	// {LogDir}/{Service}_{date}.log. Supports a leading "~".
	LogDir string

	// Service names the component for file naming and log attribution.
	Service string

	// Exporter receives every logged entry in addition to stderr/file
	// output. Default: NopExporter.
	Exporter Exporter
}

// Logger wraps slog.Logger with file output and export hooks.
type Logger struct {
	slog     *slog.Logger
	service  string
	exporter Exporter
	file     *os.File
	mu       sync.Mutex
}

// multiHandler fans a slog.Record out to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, r.Level) {
			if err := hh.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// New builds a Logger from Config.
func New(config Config) *Logger {
	if config.Exporter == nil {
		config.Exporter = NopExporter{}
	}

	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	handlers := []slog.Handler{slog.NewJSONHandler(os.Stderr, opts)}

	var file *os.File
	if config.LogDir != "" {
		dir := expandPath(config.LogDir)
		if err := os.MkdirAll(dir, 0o755); err == nil {
			name := fmt.Sprintf("%s_%s.log", config.Service, time.Now().Format("2006-01-02"))
			f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err == nil {
				file = f
				handlers = append(handlers, slog.NewJSONHandler(f, opts))
			}
		}
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = &multiHandler{handlers: handlers}
	}

	l := &Logger{
		slog:     slog.New(handler).With("service", config.Service),
		service:  config.Service,
		exporter: config.Exporter,
		file:     file,
	}
	return l
}

// Default returns a Logger writing JSON to stderr at info level.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "tau-daemon"})
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

// With returns a child logger carrying the given attributes on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		service:  l.service,
		exporter: l.exporter,
		file:     l.file,
	}
}

// Slog exposes the underlying *slog.Logger for libraries that want one.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Close flushes and closes the exporter and any open log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.exporter != nil {
		_ = l.exporter.Flush(context.Background())
		_ = l.exporter.Close()
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) log(level Level, msg string, args ...any) {
	l.slog.Log(context.Background(), level.toSlogLevel(), msg, args...)
	if l.exporter == nil {
		return
	}
	_ = l.exporter.Export(context.Background(), LogEntry{
		Time:    time.Now(),
		Level:   level.String(),
		Message: msg,
		Service: l.service,
		Attrs:   argsToMap(args),
	})
}

func argsToMap(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	m := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key := fmt.Sprintf("%v", args[i])
		m[key] = args[i+1]
	}
	return m
}

func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

var _ io.Closer = (*Logger)(nil)
