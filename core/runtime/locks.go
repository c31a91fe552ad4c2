package runtime

import (
	"slices"
	"sync"
)

// recordLocks is a table of per-record read/write locks keyed by "fqn/id".
// Writers hold their own record and every record they reference shared;
// Delete holds its target exclusively, so a reference cannot be created or
// kept alive while the record it points at is being deleted. Entries are
// dropped when the last holder releases them.
type recordLocks struct {
	mu      sync.Mutex
	entries map[string]*recordLock
}

type recordLock struct {
	sync.RWMutex
	holders int
}

func recordKey(fqn, id string) string {
	return fqn + "/" + id
}

func (l *recordLocks) acquire(key string) *recordLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries == nil {
		l.entries = make(map[string]*recordLock)
	}
	e, ok := l.entries[key]
	if !ok {
		e = &recordLock{}
		l.entries[key] = e
	}
	e.holders++
	return e
}

func (l *recordLocks) release(key string, e *recordLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.holders--; e.holders == 0 {
		delete(l.entries, key)
	}
}

// shared read-locks keys in sorted order and returns the matching unlock.
// The fixed order keeps two writers from each holding a key the other waits
// for behind a pending Delete.
func (l *recordLocks) shared(keys []string) func() {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*recordLock, len(keys))
	for i, k := range keys {
		held[i] = l.acquire(k)
		held[i].RLock()
	}
	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			held[i].RUnlock()
			l.release(keys[i], held[i])
		}
	}
}

// exclusive write-locks key and returns the matching unlock.
func (l *recordLocks) exclusive(key string) func() {
	e := l.acquire(key)
	e.Lock()
	return func() {
		e.Unlock()
		l.release(key, e)
	}
}

// size reports the number of live entries.
func (l *recordLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
