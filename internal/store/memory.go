// internal/store/memory.go
//
// In-memory registry of live game sessions.
// Sessions hold timers and a goroutine, so they live only in process memory;
// scores reach the database through the session's ScoreSink.
//
// Characteristics:
//   - *game.Session values keyed by session ID.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - Sweep closes and drops sessions nobody has touched for a while.

package store

import (
	"errors"
	"sync"
	"time"

	"github.com/flipmatch/go-server/internal/game"
)

// ErrNotFound is returned by Get for unknown or swept sessions.
var ErrNotFound = errors.New("session not found")

// Entry is a registered session and the key of whoever may drive it
// (a user ID or a guest cookie ID).
type Entry struct {
	Session *game.Session
	Owner   string
}

// Sessions is the registry used by the HTTP layer.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]Entry
}

func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]Entry)}
}

// Save adds or replaces a session. A replaced session is closed.
func (m *Sessions) Save(owner string, s *game.Session) {
	m.mu.Lock()
	old, ok := m.sessions[s.ID()]
	m.sessions[s.ID()] = Entry{Session: s, Owner: owner}
	m.mu.Unlock()
	if ok && old.Session != s {
		old.Session.Close()
	}
}

// Get looks up a session by ID.
func (m *Sessions) Get(id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.sessions[id]; ok {
		return e, nil
	}
	return Entry{}, ErrNotFound
}

// Delete closes and removes a session. Unknown IDs are ignored.
func (m *Sessions) Delete(id string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		e.Session.Close()
	}
}

func (m *Sessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes sessions whose last activity is older than now-ttl and
// returns how many were removed.
func (m *Sessions) Sweep(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)
	var stale []*game.Session
	m.mu.Lock()
	for id, e := range m.sessions {
		if e.Session.LastActive().Before(cutoff) {
			stale = append(stale, e.Session)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range stale {
		s.Close()
	}
	return len(stale)
}

// CloseAll closes every session; used on shutdown.
func (m *Sessions) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]Entry)
	m.mu.Unlock()
	for _, e := range all {
		e.Session.Close()
		e.Session.WaitSubmissions()
	}
}
