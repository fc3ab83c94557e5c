// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for the nyschooldata bridge.
//
// The wrapper is a library first, so the default logger is quiet: only
// warnings and errors reach stderr (R warnings surfaced by the bridge are
// logged at Warn). The CLI raises the level from --log-level or config.
//
// # Architecture
//
// Logger wraps a log/slog handler tee. Each destination is a slog.Handler:
//
//	slog.Logger ──► tee ─┬─► console  text or JSON, stderr by default
//	                     ├─► file     JSON, {service}_{date}.log (optional)
//	                     └─► export   LogEntry queue ──► LogExporter (optional)
//
// # Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "nyschooldata"})
//	defer logger.Close()
//	logger.Info("bridge ready", "r_version", info.RVersion)
//
// Tests capture entries with a BufferedExporter:
//
//	exp := logging.NewBufferedExporter()
//	logger := logging.New(logging.Config{Quiet: true, Exporter: exp})
//
// # Thread Safety
//
// Logger is safe for concurrent use.
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
	"sync"
	"time"
)

// DefaultService is the service attribute attached by Default.
const DefaultService = "nyschooldata"

const (
	exportQueueSize = 256
	exportTimeout   = time.Second
	closeTimeout    = 5 * time.Second
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity. Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug traces bridge requests and raw frames.
	LevelDebug Level = iota

	// LevelInfo reports bridge startup and call completion.
	LevelInfo

	// LevelWarn reports R warnings and degraded conditions.
	LevelWarn

	// LevelError reports failed calls.
	LevelError
)

var levels = [...]struct {
	name string
	slog slog.Level
}{
	LevelDebug: {"DEBUG", slog.LevelDebug},
	LevelInfo:  {"INFO", slog.LevelInfo},
	LevelWarn:  {"WARN", slog.LevelWarn},
	LevelError: {"ERROR", slog.LevelError},
}

func (l Level) known() bool { return l >= 0 && int(l) < len(levels) }

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	if !l.known() {
		return "UNKNOWN"
	}
	return levels[l].name
}

func (l Level) toSlogLevel() slog.Level {
	if !l.known() {
		return slog.LevelInfo
	}
	return levels[l].slog
}

// fromSlog maps a slog level back, rounding custom levels down.
func fromSlog(sl slog.Level) Level {
	out := LevelDebug
	for i, def := range levels {
		if sl >= def.slog {
			out = Level(i)
		}
	}
	return out
}

// ParseLevel converts a case-insensitive level name ("debug", "info",
// "warn"/"warning", "error") into a Level. The empty string is Info.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "":
		return LevelInfo, nil
	case "WARNING":
		return LevelWarn, nil
	}
	for i, def := range levels {
		if def.name == name {
			return Level(i), nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Logger. The zero value logs Debug+ as text to stderr,
// so callers normally set Level explicitly.
type Config struct {
	// Level sets the minimum log level for every destination.
	Level Level

	// LogDir enables a JSON log file "{Service}_{YYYY-MM-DD}.log" in this
	// directory, created with 0750 if missing. Supports ~ expansion.
	LogDir string

	// Service is attached to every entry as the "service" attribute.
	Service string

	// JSON switches the console handler from text to JSON.
	JSON bool

	// Quiet disables the console handler.
	Quiet bool

	// Writer replaces stderr as the console destination.
	Writer io.Writer

	// Exporter receives every entry at or above Level from a background
	// goroutine.
	Exporter LogExporter
}

// =============================================================================
// Export Extension
// =============================================================================

// LogExporter receives log entries for external processing.
//
// Export is called from a single goroutine in log order. Flush and Close
// are called in that order by Logger.Close after the queue drains.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is a structured log entry handed to a LogExporter.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string
	Attrs     map[string]any
}

// =============================================================================
// Logger
// =============================================================================

// Logger provides structured logging with multi-destination output.
//
// Use With to derive a logger carrying extra attributes, e.g. a call ID:
//
//	callLog := logger.With("call_id", id, "function", "fetch_enr")
type Logger struct {
	slog  *slog.Logger
	level Level
	res   *resources
}

// resources are shared by a Logger and every child made with With.
type resources struct {
	once  sync.Once
	err   error
	file  *os.File
	queue *exportQueue
}

// New creates a Logger. Call Close to release the log file and drain the
// exporter. A log directory that cannot be created is skipped silently.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	res := &resources{}
	var sinks tee

	if !config.Quiet {
		w := config.Writer
		if w == nil {
			w = os.Stderr
		}
		if config.JSON {
			sinks = append(sinks, slog.NewJSONHandler(w, opts))
		} else {
			sinks = append(sinks, slog.NewTextHandler(w, opts))
		}
	}
	if config.LogDir != "" {
		if f, err := dailyFile(config.LogDir, config.Service); err == nil {
			res.file = f
			sinks = append(sinks, slog.NewJSONHandler(f, opts))
		}
	}
	if config.Exporter != nil {
		res.queue = newExportQueue(config.Exporter)
		sinks = append(sinks, &exportHandler{min: config.Level, service: config.Service, queue: res.queue})
	}

	var h slog.Handler
	switch len(sinks) {
	case 0:
		h = discardHandler{}
	case 1:
		h = sinks[0]
	default:
		h = sinks
	}
	if config.Service != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}
	return &Logger{slog: slog.New(h), level: config.Level, res: res}
}

// Default returns the library logger: Warn level, text to stderr.
func Default() *Logger {
	return New(Config{Level: LevelWarn, Service: DefaultService})
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(Config{Quiet: true, Level: LevelError})
}

// dailyFile opens {dir}/{service}_{YYYY-MM-DD}.log for appending.
func dailyFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	if service == "" {
		service = DefaultService
	}
	name := service + "_" + time.Now().Format(time.DateOnly) + ".log"
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

// Debug logs at Debug level.
func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args) }

// Info logs at Info level.
func (l *Logger) Info(msg string, args ...any) { l.log(LevelInfo, msg, args) }

// Warn logs at Warn level.
func (l *Logger) Warn(msg string, args ...any) { l.log(LevelWarn, msg, args) }

// Error logs at Error level.
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args) }

func (l *Logger) log(level Level, msg string, args []any) {
	l.slog.Log(context.Background(), level.toSlogLevel(), msg, args...)
}

// With returns a Logger that adds args to every entry.
//
// The child shares the parent's file and exporter; closing either closes both.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), level: l.level, res: l.res}
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Enabled reports whether level would be emitted.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

// Close drains and closes the exporter, then syncs and closes the log file.
// Only the first call does any work; later calls return its result.
func (l *Logger) Close() error {
	r := l.res
	r.once.Do(func() {
		var errs []error
		if r.queue != nil {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			errs = append(errs, r.queue.close(ctx))
			cancel()
		}
		if r.file != nil {
			if err := r.file.Sync(); err != nil {
				errs = append(errs, fmt.Errorf("sync log file: %w", err))
			}
			if err := r.file.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close log file: %w", err))
			}
		}
		r.err = errors.Join(errs...)
	})
	return r.err
}

// =============================================================================
// Handlers
// =============================================================================

// tee sends each record to every member that accepts its level.
type tee []slog.Handler

func (t tee) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t tee) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t tee) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t tee) each(fn func(slog.Handler) slog.Handler) tee {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = fn(h)
	}
	return out
}

// exportHandler turns records into LogEntry values for the export queue.
// Group names prefix attribute keys with "group.".
type exportHandler struct {
	min     Level
	service string
	prefix  string
	attrs   []slog.Attr
	queue   *exportQueue
}

func (h *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return fromSlog(level) >= h.min
}

func (h *exportHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		putAttr(attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		putAttr(attrs, h.prefix, a)
		return true
	})
	h.queue.push(LogEntry{
		Timestamp: r.Time,
		Level:     fromSlog(r.Level),
		Message:   r.Message,
		Service:   h.service,
		Attrs:     attrs,
	})
	return nil
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	child := *h
	child.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	child.attrs = append(child.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		child.attrs = append(child.attrs, a)
	}
	return &child
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	child := *h
	child.prefix = h.prefix + name + "."
	return &child
}

// putAttr flattens groups into dotted keys.
func putAttr(m map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range v.Group() {
			putAttr(m, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	m[prefix+a.Key] = v.Any()
}

// discardHandler drops every record.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// =============================================================================
// Export Queue
// =============================================================================

// exportQueue feeds a LogExporter from one goroutine. Entries pushed after
// close are dropped.
type exportQueue struct {
	exp    LogExporter
	ch     chan LogEntry
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

func newExportQueue(exp LogExporter) *exportQueue {
	q := &exportQueue{
		exp:  exp,
		ch:   make(chan LogEntry, exportQueueSize),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *exportQueue) run() {
	defer close(q.done)
	for entry := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		_ = q.exp.Export(ctx, entry)
		cancel()
	}
}

func (q *exportQueue) push(entry LogEntry) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	q.ch <- entry
}

// close stops intake, waits for the backlog, then flushes and closes the
// exporter. ctx bounds the wait and the flush.
func (q *exportQueue) close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	select {
	case <-q.done:
	case <-ctx.Done():
		return fmt.Errorf("drain exporter: %w", ctx.Err())
	}

	var errs []error
	if err := q.exp.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush exporter: %w", err))
	}
	if err := q.exp.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close exporter: %w", err))
	}
	return errors.Join(errs...)
}

// =============================================================================
// Helpers
// =============================================================================

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

// =============================================================================
// Built-in Exporters
// =============================================================================

// NopExporter discards all entries.
type NopExporter struct{}

func (NopExporter) Export(context.Context, LogEntry) error { return nil }
func (NopExporter) Flush(context.Context) error            { return nil }
func (NopExporter) Close() error                           { return nil }

// BufferedExporter collects entries in memory, mainly for tests.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewBufferedExporter creates an empty BufferedExporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{}
}

func (b *BufferedExporter) Export(_ context.Context, entry LogEntry) error {
	b.mu.Lock()
	b.entries = append(b.entries, entry)
	b.mu.Unlock()
	return nil
}

func (b *BufferedExporter) Flush(context.Context) error { return nil }
func (b *BufferedExporter) Close() error                { return nil }

// Entries returns a copy of the collected entries.
func (b *BufferedExporter) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]LogEntry(nil), b.entries...)
}

var (
	_ LogExporter  = NopExporter{}
	_ LogExporter  = (*BufferedExporter)(nil)
	_ slog.Handler = tee(nil)
	_ slog.Handler = (*exportHandler)(nil)
)
