package store

import (
	"sync"

	"github.com/cesargomez89/inkqueue/internal/domain"
)

// keyedMutex serializes writers per record. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[domain.Key]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[domain.Key]*refMutex)}
}

func (k *keyedMutex) Lock(key domain.Key) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
}

func (k *keyedMutex) Unlock(key domain.Key) {
	k.mu.Lock()
	m := k.locks[key]
	m.refs--
	if m.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	m.Unlock()
}
