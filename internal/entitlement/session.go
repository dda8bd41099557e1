// SPDX-License-Identifier: Apache-2.0

package entitlement

import (
	"sync"
	"time"
)

// Session holds the "continue anyway" override for one browsing session.
// Once set it stays set until the session is discarded.
type Session struct {
	mu         sync.RWMutex
	overridden bool
}

func (s *Session) ContinueAnyway() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overridden = true
}

func (s *Session) Overridden() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overridden
}

// Sessions is the in-memory set of live sessions keyed by session id.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	lastSeen map[string]time.Time
	now      func() time.Time
}

func NewSessions() *Sessions {
	return &Sessions{
		sessions: make(map[string]*Session),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Get returns the session for id, creating it on first use.
func (s *Sessions) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{}
		s.sessions[id] = sess
	}
	s.lastSeen[id] = s.now()
	return sess
}

// Sweep discards sessions not seen since before, except those keep
// reports as still in use. It returns how many were discarded.
func (s *Sessions) Sweep(before time.Time, keep func(id string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, seen := range s.lastSeen {
		if !seen.Before(before) || (keep != nil && keep(id)) {
			continue
		}
		delete(s.sessions, id)
		delete(s.lastSeen, id)
		n++
	}
	return n
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Sessions) End(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.lastSeen, id)
}
