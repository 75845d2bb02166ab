// Package session provides the per-user conversation session store.
//
// Sessions are volatile and process-local. A restart simply drops every in-progress
// flow; users start over.
package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kabelnet/ispbot/internal/models"
)

// Store holds at most one Session per user identifier.
type Store interface {
	// Get returns a copy of the user's session, or false when the user has none.
	Get(userID string) (models.Session, bool)
	// Set creates or replaces the user's session.
	Set(userID string, s models.Session)
	// Delete removes the user's session. Deleting a missing session is a no-op.
	Delete(userID string)
}

// MemoryStore is an in-memory Store safe for concurrent use across distinct keys.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	now      func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithClock sets the time source used to stamp sessions and to sweep them.
// It must match the clock the engine checks idle timeouts against.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	slog.Debug("Creating session MemoryStore")
	m := &MemoryStore{
		sessions: make(map[string]models.Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) Get(userID string) (models.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	if !ok {
		return models.Session{}, false
	}
	return s.Clone(), true
}

func (m *MemoryStore) Set(userID string, s models.Session) {
	s = s.Clone()
	s.UserID = userID
	now := m.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	m.mu.Lock()
	m.sessions[userID] = s
	m.mu.Unlock()
	slog.Debug("MemoryStore.Set", "user_id", userID, "flow", s.FlowID, "step", s.Step, "executing", s.Executing)
}

func (m *MemoryStore) Delete(userID string) {
	m.mu.Lock()
	_, existed := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if existed {
		slog.Debug("MemoryStore.Delete", "user_id", userID)
	}
}

// List returns copies of all sessions ordered by user ID.
func (m *MemoryStore) List() []models.Session {
	m.mu.RLock()
	out := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of active sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep deletes sessions not updated for longer than maxIdle and returns the
// affected user IDs. Sessions awaiting an external action are kept.
func (m *MemoryStore) Sweep(maxIdle time.Duration) []string {
	if maxIdle <= 0 {
		return nil
	}
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	var removed []string
	for id, s := range m.sessions {
		if s.Executing || !s.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(m.sessions, id)
		removed = append(removed, id)
	}
	m.mu.Unlock()

	if len(removed) > 0 {
		slog.Info("MemoryStore.Sweep: removed idle sessions", "count", len(removed), "max_idle", maxIdle)
	}
	return removed
}
