package store

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cyberpulse/cyberpulse/pkg/types"
)

// entry is an event together with the time it was received.
type entry struct {
	event      types.Event
	receivedAt time.Time
}

// Store is a thread-safe in-memory event window. Events stay live for the
// configured retention after they are received; a background goroutine (Run)
// periodically evicts expired ones.
type Store struct {
	mu      sync.RWMutex
	entries []entry
	ttl     time.Duration
	now     func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given retention.
func New(ttl time.Duration) *Store {
	return &Store{
		ttl: ttl,
		now: time.Now,
	}
}

// TTL returns the configured retention.
func (s *Store) TTL() time.Duration { return s.ttl }

// Append stores events as received now. Callers must not modify events after
// calling Append.
func (s *Store) Append(events []types.Event) {
	s.AppendAt(events, s.now())
}

// AppendAt stores events as received at the given time. It is used to warm
// the store from the archive after a restart.
func (s *Store) AppendAt(events []types.Event, receivedAt time.Time) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		s.entries = append(s.entries, entry{event: ev, receivedAt: receivedAt})
	}
}

// Events returns a copy of all live events sorted ascending by timestamp.
// Expired events that have not yet been evicted are excluded.
func (s *Store) Events() []types.Event {
	s.mu.RLock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]types.Event, 0, len(s.entries))
	for _, e := range s.entries {
		if e.receivedAt.After(cutoff) {
			out = append(out, e.event)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b types.Event) int { return a.Timestamp.Compare(b.Timestamp) })
	return out
}

// Count returns the total number of events currently held, including expired ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Evict removes events received before now minus the retention.
// It returns the number of events removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.receivedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(s.entries) - len(kept)
	clear(s.entries[len(kept):])
	s.entries = kept
	return removed
}

// Run starts the background eviction loop. It ticks at half the retention
// (minimum 1 second). Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted expired events", "count", n)
			}
		}
	}
}
