package core

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// keyLock hands out one mutex per key. An entry lives only while some
// goroutine holds or waits for it, so idle users and rooms cost nothing.
type keyLock[K comparable] struct {
	entries *xsync.MapOf[K, *keyLockEntry]
}

type keyLockEntry struct {
	sync.Mutex
	refs int
}

func newKeyLock[K comparable]() *keyLock[K] {
	return &keyLock[K]{entries: xsync.NewMapOf[K, *keyLockEntry]()}
}

func (l *keyLock[K]) Lock(key K) {
	entry, _ := l.entries.Compute(key, func(entry *keyLockEntry, loaded bool) (*keyLockEntry, bool) {
		if !loaded {
			entry = &keyLockEntry{}
		}
		entry.refs++
		return entry, false
	})
	entry.Lock()
}

func (l *keyLock[K]) Unlock(key K) {
	l.entries.Compute(key, func(entry *keyLockEntry, loaded bool) (*keyLockEntry, bool) {
		if !loaded {
			return nil, true
		}
		entry.Unlock()
		entry.refs--
		return entry, entry.refs == 0
	})
}

// Len reports how many keys are currently held or awaited.
func (l *keyLock[K]) Len() int {
	return l.entries.Size()
}
