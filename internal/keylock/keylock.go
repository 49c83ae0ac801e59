// Package keylock serializes work per key while letting different keys run
// in parallel.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Map hands out one mutex per key. Entries are reference counted and removed
// once no goroutine holds or waits for them, so the map only grows with the
// number of keys in flight.
type Map[K comparable] struct {
	locks map[K]*entry
	mu    sync.Mutex
}

// New creates an empty lock map.
func New[K comparable]() *Map[K] {
	return &Map[K]{locks: make(map[K]*entry)}
}

func (m *Map[K]) acquire(key K) *entry {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()
	return e
}

func (m *Map[K]) release(key K, e *entry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}

// Lock blocks until key is held and returns the matching unlock func.
func (m *Map[K]) Lock(key K) func() {
	e := m.acquire(key)
	e.ch <- struct{}{}
	return func() {
		<-e.ch
		m.release(key, e)
	}
}

// LockContext is Lock with cancellation. On ctx expiry it returns ctx.Err()
// without holding the key.
func (m *Map[K]) LockContext(ctx context.Context, key K) (func(), error) {
	e := m.acquire(key)
	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			m.release(key, e)
		}, nil
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}
}

// Len returns the number of keys currently held or waited on.
func (m *Map[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
