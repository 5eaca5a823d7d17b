package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vesaa/healdash/internal/feed"
	"github.com/vesaa/healdash/internal/models"
)

// DefaultLogCap is the number of log entries kept in memory.
const DefaultLogCap = 1000

// LogStore is the persistence the LogSink writes through to.
type LogStore interface {
	InsertLog(ctx context.Context, l *models.ServiceLog) error
}

// LogSink is the append-only, capped record of human-readable events.
// It keeps the newest Cap entries; reads return them most recent first.
type LogSink struct {
	mu      sync.RWMutex
	entries []models.ServiceLog // oldest first
	cap     int
	store   LogStore
	pub     feed.Publisher
}

// NewLogSink returns a sink keeping at most capacity entries (DefaultLogCap if < 1).
func NewLogSink(capacity int, store LogStore, pub feed.Publisher) *LogSink {
	if capacity < 1 {
		capacity = DefaultLogCap
	}
	if pub == nil {
		pub = feed.Discard
	}
	return &LogSink{cap: capacity, store: store, pub: pub}
}

// Append records l in memory, then writes it through. ID and Timestamp are
// filled in when empty. The entry is kept in memory even when persistence
// fails; the error is returned so the caller can decide whether to care.
func (s *LogSink) Append(ctx context.Context, l models.ServiceLog) (models.ServiceLog, error) {
	if l.ID == "" {
		l.ID = "log-" + uuid.NewString()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.entries = append(s.entries, l)
	if over := len(s.entries) - s.cap; over > 0 {
		s.entries = s.entries[over:]
	}
	s.mu.Unlock()

	s.pub.Publish(feed.KindLog, l)

	if s.store != nil {
		if err := s.store.InsertLog(ctx, &l); err != nil {
			return l, fmt.Errorf("persisting log %s: %w", l.ID, err)
		}
	}
	return l, nil
}

// Record is Append for the common case of a fresh message.
func (s *LogSink) Record(ctx context.Context, serviceID string, level models.LogLevel, msg string) (models.ServiceLog, error) {
	l := models.ServiceLog{Level: level, Message: msg}
	if serviceID != "" {
		l.ServiceID = &serviceID
	}
	return s.Append(ctx, l)
}

// List returns up to limit entries, most recent first (all when limit <= 0).
func (s *LogSink) List(limit int) []models.ServiceLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.ServiceLog, 0, n)
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.entries[i])
	}
	return out
}

// Load replaces the in-memory entries with newestFirst (as returned by the
// store), keeping only the newest Cap. Nothing is written through.
func (s *LogSink) Load(newestFirst []models.ServiceLog) {
	n := len(newestFirst)
	if n > s.cap {
		n = s.cap
	}
	entries := make([]models.ServiceLog, 0, n)
	for i := n - 1; i >= 0; i-- {
		entries = append(entries, newestFirst[i])
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
}

// Len reports how many entries are held.
func (s *LogSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
