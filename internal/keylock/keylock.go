// Package keylock provides a mutex per string key. Entries are reference
// counted and removed once no goroutine holds or waits on them, so the
// table does not grow with the number of distinct keys ever seen.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{} // buffered(1); a token in the channel means held
	refs int
	gen  uint64 // bumped on every acquire and forced release
}

// Map is a table of keyed locks. The zero value is ready to use.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Map.
func New() *Map {
	return &Map{}
}

func (m *Map) ref(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]*entry)
	}
	e := m.entries[key]
	if e == nil {
		e = &entry{ch: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Map) unref(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Lock blocks until key is held by the caller or ctx is done. The returned
// function releases the lock and is safe to call more than once.
func (m *Map) Lock(ctx context.Context, key string) (func(), error) {
	e := m.ref(key)
	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, e)
		return nil, ctx.Err()
	}
	return m.holder(key, e), nil
}

// TryLock acquires key if it is free.
func (m *Map) TryLock(key string) (func(), bool) {
	e := m.ref(key)
	select {
	case e.ch <- struct{}{}:
	default:
		m.unref(key, e)
		return nil, false
	}
	return m.holder(key, e), true
}

func (m *Map) holder(key string, e *entry) func() {
	m.mu.Lock()
	e.gen++
	gen := e.gen
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if e.gen == gen {
				select {
				case <-e.ch:
				default:
				}
			}
			m.mu.Unlock()
			m.unref(key, e)
		})
	}
}

// IsLocked reports whether key is currently held.
func (m *Map) IsLocked(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	return e != nil && len(e.ch) > 0
}

// ForceUnlock releases key regardless of who holds it. The current
// holder's release function becomes a no-op.
func (m *Map) ForceUnlock(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	if e == nil {
		return false
	}
	select {
	case <-e.ch:
		e.gen++
		return true
	default:
		return false
	}
}

// Len returns the number of keys currently tracked.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
