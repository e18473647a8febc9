package util

import "sync"

// KeyedMutex serializes work per string key. Callers for different keys run
// concurrently; callers for the same key queue up. Entries are reference
// counted and removed once the last holder unlocks, so the map does not grow
// with the number of distinct keys ever seen.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the lock for key, blocking while another holder has it.
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases the lock for key. Calling Unlock for a key that is not
// held is a programming error, same as with sync.Mutex.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	l.mu.Unlock()
}
