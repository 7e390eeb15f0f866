package app

import (
	"sync"

	"github.com/dkeye/streamrelay/internal/domain"
)

type refMutex struct {
	mu   sync.Mutex
	refs int
}

// keyLock hands out one mutex per stream code and forgets it once nobody
// holds or waits for it, so the table never outgrows the in-flight work.
type keyLock struct {
	mu    sync.Mutex
	locks map[domain.StreamCode]*refMutex
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[domain.StreamCode]*refMutex)}
}

func (k *keyLock) Lock(code domain.StreamCode) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[code]
	if !ok {
		m = &refMutex{}
		k.locks[code] = m
	}
	m.refs++
	k.mu.Unlock()

	m.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Unlock()
			k.mu.Lock()
			m.refs--
			if m.refs == 0 {
				delete(k.locks, code)
			}
			k.mu.Unlock()
		})
	}
}

func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
