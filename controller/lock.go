package controller

import (
	"sync"

	"github.com/cloudx-io/sealedbid/core"
)

// keyedMutex hands out one mutex per auction address. Entries are dropped once no
// goroutine holds or waits on them, so the map only grows with in-flight work.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[core.Address]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[core.Address]*refMutex)}
}

// Lock blocks until addr is free and returns the matching unlock func.
func (k *keyedMutex) Lock(addr core.Address) func() {
	k.mu.Lock()
	m, ok := k.locks[addr]
	if !ok {
		m = &refMutex{}
		k.locks[addr] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, addr)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
