// Package testutil provides log capture helpers for package tests.
package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// LogEntry is one captured record.
type LogEntry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogRecorder is an slog.Handler that buffers records so tests can
// assert on what was logged.
type LogRecorder struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewLogger returns a logger backed by a fresh recorder.
func NewLogger() (*slog.Logger, *LogRecorder) {
	rec := &LogRecorder{}
	return slog.New(rec), rec
}

func (r *LogRecorder) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]any)
	record.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, LogEntry{
		Level:   record.Level,
		Message: record.Message,
		Attrs:   attrs,
	})
	return nil
}

func (r *LogRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *LogRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }

func (r *LogRecorder) WithGroup(string) slog.Handler { return r }

// Entries returns a copy of everything captured so far.
func (r *LogRecorder) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// AtLevel filters captured entries by level.
func (r *LogRecorder) AtLevel(level slog.Level) []LogEntry {
	var filtered []LogEntry
	for _, e := range r.Entries() {
		if e.Level == level {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// ContainsMessage reports whether any entry's message contains substr.
func (r *LogRecorder) ContainsMessage(substr string) bool {
	for _, e := range r.Entries() {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// ContainsAttr reports whether any entry carries key=value.
func (r *LogRecorder) ContainsAttr(key string, value any) bool {
	for _, e := range r.Entries() {
		if v, ok := e.Attrs[key]; ok && v == value {
			return true
		}
	}
	return false
}

// AssertLogged fails the test when no entry at level contains message.
func AssertLogged(t *testing.T, rec *LogRecorder, level slog.Level, message string) {
	t.Helper()
	for _, e := range rec.AtLevel(level) {
		if strings.Contains(e.Message, message) {
			return
		}
	}
	t.Errorf("no %s log containing %q; captured: %v", level, message, rec.AtLevel(level))
}
