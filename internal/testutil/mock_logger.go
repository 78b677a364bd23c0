// Package testutil provides shared test helpers for RxMarket-Intelligence.
package testutil

import (
	"strings"
	"sync"

	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
)

// MockLogger implements logging.Logger and records every entry so tests can
// assert on what a component logged.
type MockLogger struct {
	mu      *sync.Mutex
	name    string
	with    []logging.Field
	entries *[]LogEntry
}

// LogEntry is one captured log call.
type LogEntry struct {
	Level   string
	Logger  string
	Message string
	Fields  []logging.Field
}

// NewMockLogger creates an empty recording logger.
func NewMockLogger() *MockLogger {
	entries := make([]LogEntry, 0)
	return &MockLogger{mu: &sync.Mutex{}, entries: &entries}
}

func (m *MockLogger) log(level, msg string, fields []logging.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]logging.Field, 0, len(m.with)+len(fields))
	all = append(all, m.with...)
	all = append(all, fields...)
	*m.entries = append(*m.entries, LogEntry{
		Level:   level,
		Logger:  m.name,
		Message: msg,
		Fields:  all,
	})
}

func (m *MockLogger) Debug(msg string, fields ...logging.Field) { m.log("debug", msg, fields) }
func (m *MockLogger) Info(msg string, fields ...logging.Field)  { m.log("info", msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...logging.Field)  { m.log("warn", msg, fields) }
func (m *MockLogger) Error(msg string, fields ...logging.Field) { m.log("error", msg, fields) }

// Fatal records the entry but does not exit; tests must keep running.
func (m *MockLogger) Fatal(msg string, fields ...logging.Field) { m.log("fatal", msg, fields) }

// With returns a child that prefixes every entry with the given fields.
// Children share the parent's entry log so one Entries() call sees all of
// them.
func (m *MockLogger) With(fields ...logging.Field) logging.Logger {
	child := *m
	child.with = append(append([]logging.Field{}, m.with...), fields...)
	return &child
}

// Named returns a child carrying the dotted logger name.
func (m *MockLogger) Named(name string) logging.Logger {
	child := *m
	if child.name == "" {
		child.name = name
	} else {
		child.name = child.name + "." + name
	}
	return &child
}

// Entries returns a copy of everything logged so far, including entries from
// With/Named children.
func (m *MockLogger) Entries() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogEntry, len(*m.entries))
	copy(out, *m.entries)
	return out
}

// Clear drops all recorded entries.
func (m *MockLogger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.entries = (*m.entries)[:0]
}

// HasEntry reports whether an entry at the given level contains substr in
// its message.
func (m *MockLogger) HasEntry(level, substr string) bool {
	for _, e := range m.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
