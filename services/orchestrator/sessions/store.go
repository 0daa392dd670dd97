// Package sessions holds conversation histories keyed by session ID.
//
// The store is deliberately pluggable: orchestration logic only sees the
// Store interface, so a bounded or durable implementation can replace
// the in-memory map without touching the handlers.
package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/medgpt-dev/medgpt/services/orchestrator/datatypes"
)

// Store is the session persistence seam.
//
// Get returns a copy of the conversation for a session, or an empty
// slice for an unknown one. Put replaces the conversation. Within one
// session the front end serializes requests; concurrent Put calls on
// the same key are last-write-wins, an accepted limitation.
type Store interface {
	Get(sessionID string) []datatypes.Turn
	Put(sessionID string, history []datatypes.Turn)
	Delete(sessionID string)
	Len() int
}

type entry struct {
	history    []datatypes.Turn
	lastActive time.Time
}

// MemoryStore is the in-memory Store. Sessions are created lazily and
// live for the process lifetime unless a sweeper is started.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Get returns a copy of the session's conversation.
func (s *MemoryStore) Get(sessionID string) []datatypes.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[sessionID]
	if !ok {
		return nil
	}
	return datatypes.CloneHistory(e.history)
}

// Put replaces the session's conversation and refreshes its activity
// timestamp.
func (s *MemoryStore) Put(sessionID string, history []datatypes.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = &entry{
		history:    datatypes.CloneHistory(history),
		lastActive: s.now(),
	}
}

// Delete removes a session.
func (s *MemoryStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// sweep evicts sessions idle longer than ttl and returns their IDs.
func (s *MemoryStore) sweep(ttl time.Duration) []string {
	cutoff := s.now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, e := range s.entries {
		if e.lastActive.Before(cutoff) {
			delete(s.entries, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// StartSweeper evicts idle sessions on an interval until ctx is
// cancelled. TTL <= 0 disables eviction entirely (sessions then live for
// the process lifetime, matching the default contract).
//
// onEvict, when non-nil, receives each evicted session ID so callers
// can release per-session state they hold elsewhere (e.g. rate
// windows).
func (s *MemoryStore) StartSweeper(ctx context.Context, ttl, interval time.Duration, onEvict func(sessionID string)) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := s.sweep(ttl)
				if len(removed) == 0 {
					continue
				}
				slog.Info("Evicted idle sessions", "count", len(removed), "ttl", ttl)
				if onEvict != nil {
					for _, id := range removed {
						onEvict(id)
					}
				}
			}
		}
	}()
}
