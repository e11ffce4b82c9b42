package sync

import "sync"

// KeyLock serializes work per string key. The webhook handler uses it to keep
// concurrent tasks for the same pull request from interleaving while tasks for
// different PRs run freely.
//
// Mutexes are never evicted; keys are PR identifiers, which stay small over a
// typical process lifetime.
type KeyLock struct {
	locks sync.Map // key -> *sync.Mutex
}

func NewKeyLock() *KeyLock {
	return &KeyLock{}
}

// Lock blocks until the key's mutex is held.
func (l *KeyLock) Lock(key string) {
	val, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	val.(*sync.Mutex).Lock()
}

// Unlock releases the key's mutex. Unlocking a key that was never locked is a
// no-op rather than a panic.
func (l *KeyLock) Unlock(key string) {
	val, ok := l.locks.Load(key)
	if !ok {
		return
	}
	val.(*sync.Mutex).Unlock()
}

// TryLock acquires the key's mutex without blocking and reports success.
func (l *KeyLock) TryLock(key string) bool {
	val, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	return val.(*sync.Mutex).TryLock()
}
