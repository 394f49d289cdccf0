package service

import (
	"sync"

	"github.com/google/uuid"
)

// keyLocks serializes lifecycle operations per VM id. Entries are
// refcounted and removed once the last holder releases, so the table does
// not grow with the number of VMs ever seen.
type keyLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{entries: make(map[uuid.UUID]*lockEntry)}
}

// lock blocks until the per-id lock is held and returns the release
// function. The release function must be called exactly once, on every
// exit path.
func (l *keyLocks) lock(id uuid.UUID) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}

// held reports the number of ids with live lock entries. Used by tests to
// verify cleanup.
func (l *keyLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
