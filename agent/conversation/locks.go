package conversation

import "sync"

// ThreadLocker serializes work per thread id so overlapping requests on one
// conversation cannot interleave, while distinct threads proceed in
// parallel. Entries are reference counted and removed when the last holder
// releases, so the map does not grow with the number of threads ever seen.
type ThreadLocker struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewThreadLocker() *ThreadLocker {
	return &ThreadLocker{entries: make(map[string]*lockEntry)}
}

// Lock acquires the lock for one thread id and returns its release func.
func (t *ThreadLocker) Lock(threadID string) func() {
	t.mu.Lock()
	e, ok := t.entries[threadID]
	if !ok {
		e = &lockEntry{}
		t.entries[threadID] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.entries, threadID)
		}
		t.mu.Unlock()
	}
}

// Len reports how many thread entries are currently held.
func (t *ThreadLocker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
