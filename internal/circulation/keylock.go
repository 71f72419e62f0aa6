// internal/circulation/keylock.go
package circulation

import (
	"sync"

	"github.com/google/uuid"
)

// keyLock hands out one mutex per key and drops it once unused.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*refMutex)}
}

// Lock acquires keys in the order given and returns the matching unlock.
// Callers must use a consistent order across operations.
func (k *keyLock) Lock(keys ...string) func() {
	held := make([]string, 0, len(keys))
	for _, key := range keys {
		k.acquire(key).Lock()
		held = append(held, key)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			k.release(held[i])
		}
	}
}

func (k *keyLock) acquire(key string) *refMutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	return m
}

func (k *keyLock) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	m := k.locks[key]
	m.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(k.locks, key)
	}
}

func itemKey(id uuid.UUID) string     { return "item:" + id.String() }
func borrowerKey(id uuid.UUID) string { return "borrower:" + id.String() }
