package storage

import (
	"sync"
)

// SeenCache tracks which purchase items this process has already handled so
// hub redeliveries do not notify twice. Deliberately in-memory: the relay
// keeps no state across restarts.
type SeenCache interface {
	// Seen reports whether the key was marked before.
	Seen(key string) bool

	// Mark records the key as handled.
	Mark(key string)
}

// MemorySeen is the map-backed SeenCache used in production.
type MemorySeen struct {
	data   map[string]struct{}
	prefix string
	mu     sync.RWMutex
}

// NewMemorySeen initializes an in-memory seen cache.
func NewMemorySeen(prefix string) *MemorySeen {
	return &MemorySeen{
		data:   make(map[string]struct{}),
		prefix: prefix,
	}
}

// Seen reports whether the key was previously marked.
func (m *MemorySeen) Seen(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[m.prefix+key]
	return ok
}

// Mark records the key as handled.
func (m *MemorySeen) Mark(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[m.prefix+key] = struct{}{}
}
