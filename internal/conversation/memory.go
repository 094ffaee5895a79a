package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process.
type MemoryStore struct {
	locks    sessionLocks
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Append adds msgs under the session's lock.
func (m *MemoryStore) Append(_ context.Context, sessionID string, msgs ...Message) (Session, error) {
	if err := validate(sessionID, msgs); err != nil {
		return Session{}, err
	}
	unlock := m.locks.lock(sessionID)
	defer unlock()

	stamped := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		stamped = append(stamped, stamp(msg))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		now := time.Now().UTC()
		s = &Session{ID: sessionID, CreatedAt: now, LastUpdated: now}
		m.sessions[sessionID] = s
	}
	s.Messages = append(s.Messages, stamped...)
	s.LastUpdated = stamped[len(stamped)-1].Timestamp
	return copySession(s), nil
}

// Get returns a copy of the session.
func (m *MemoryStore) Get(_ context.Context, sessionID string) (Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false, nil
	}
	return copySession(s), true, nil
}

// History returns the last limit messages.
func (m *MemoryStore) History(_ context.Context, sessionID string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return tail(s.Messages, limit), nil
}

// List returns every session, most recently updated first.
func (m *MemoryStore) List(_ context.Context) ([]SessionSummary, error) {
	m.mu.RLock()
	out := make([]SessionSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, SessionSummary{ID: s.ID, CreatedAt: s.CreatedAt, LastUpdated: s.LastUpdated, MessageCount: len(s.Messages)})
	}
	m.mu.RUnlock()
	sortSummaries(out)
	return out, nil
}

// Delete removes the session and reports whether it existed.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) (bool, error) {
	unlock := m.locks.lock(sessionID)
	defer unlock()

	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return ok, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func copySession(s *Session) Session {
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	return out
}

func sortSummaries(out []SessionSummary) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.After(out[j].LastUpdated)
		}
		return out[i].ID < out[j].ID
	})
}
