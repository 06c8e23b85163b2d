package lock

import (
	"sync"

	"github.com/apex/log"
)

type keyMutex struct {
	mu      sync.Mutex
	holders int
}

// KeyLocker hands out one mutex per key. A key's mutex is dropped once nobody
// holds or waits on it.
type KeyLocker[K comparable] struct {
	mapMutex sync.Mutex
	keys     map[K]*keyMutex
}

func NewKeyLocker[K comparable]() *KeyLocker[K] {
	return &KeyLocker[K]{
		keys: make(map[K]*keyMutex),
	}
}

func (l *KeyLocker[K]) AcquireLock(key K) {
	l.mapMutex.Lock()
	km, ok := l.keys[key]
	if !ok {
		km = &keyMutex{}
		l.keys[key] = km
	}
	km.holders++
	l.mapMutex.Unlock()

	km.mu.Lock()
}

func (l *KeyLocker[K]) ReleaseLock(key K) {
	l.mapMutex.Lock()
	defer l.mapMutex.Unlock()

	km, ok := l.keys[key]
	if !ok {
		log.Errorf("ReleaseLock called on key (%v) with no mutex", key)
		return
	}

	km.holders--
	if km.holders == 0 {
		delete(l.keys, key)
	}

	km.mu.Unlock()
}

func (l *KeyLocker[K]) WithLock(key K, f func() error) error {
	l.AcquireLock(key)
	defer l.ReleaseLock(key)
	return f()
}

// Len is the number of keys currently held or waited on.
func (l *KeyLocker[K]) Len() int {
	l.mapMutex.Lock()
	defer l.mapMutex.Unlock()
	return len(l.keys)
}
