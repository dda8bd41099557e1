// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"sync"

	"github.com/google/uuid"
)

const (
	KindAnonymous     = "anonymous"
	KindAuthenticated = "authenticated"
)

// LocalCounter is the visitor-held running total for anonymous identities.
type LocalCounter interface {
	Get() int
	Increment() int
}

// Identity is either an authenticated user or an anonymous visitor carrying
// its own counter.
type Identity struct {
	UserID uuid.UUID
	Local  LocalCounter
}

func Anonymous(local LocalCounter) Identity {
	return Identity{Local: local}
}

func User(userID uuid.UUID) Identity {
	return Identity{UserID: userID}
}

func (i Identity) Authenticated() bool {
	return i.UserID != uuid.Nil
}

func (i Identity) Kind() string {
	if i.Authenticated() {
		return KindAuthenticated
	}
	return KindAnonymous
}

type MemoryCounter struct {
	mu sync.Mutex
	n  int
}

func NewMemoryCounter(start int) *MemoryCounter {
	if start < 0 {
		start = 0
	}
	return &MemoryCounter{n: start}
}

func (m *MemoryCounter) Get() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

func (m *MemoryCounter) Increment() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return m.n
}
