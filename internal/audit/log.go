// Package audit keeps the session's decision log. Entries are only ever
// appended; nothing in the log is updated or removed while the process runs.
package audit

import (
	"sync"
	"time"

	"txguard/internal/model"
)

type Log struct {
	mu  sync.RWMutex
	buf []model.LogEntry
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(entry model.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, entry)
}

// AppendAll adds a batch's entries under one lock so entries from concurrent
// batches never interleave.
func (l *Log) AppendAll(entries []model.LogEntry) {
	if len(entries) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, entries...)
}

// Snapshot returns a copy of every entry in append order.
func (l *Log) Snapshot() []model.LogEntry {
	return l.List(0)
}

// List returns the most recent limit entries in append order; limit <= 0 means all.
func (l *Log) List(limit int) []model.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.buf) {
		limit = len(l.buf)
	}
	out := make([]model.LogEntry, limit)
	copy(out, l.buf[len(l.buf)-limit:])
	return out
}

func (l *Log) Since(ts time.Time) []model.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.LogEntry, 0)
	for _, e := range l.buf {
		if !e.Timestamp.Before(ts) {
			out = append(out, e)
		}
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buf)
}
