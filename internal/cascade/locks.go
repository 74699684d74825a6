package cascade

import "sync"

// lockTable hands out per-collection advisory locks. A deletion cascade
// holds its collection's lock for the whole fixed-order sequence; ingestion
// acquires the same lock around its writes, so a writer arriving
// mid-deletion observes ErrCollectionBusy instead of racing the cascade.
type lockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]struct{})}
}

// tryAcquire takes the collection's lock without blocking. Returns false if
// another operation holds it.
func (t *lockTable) tryAcquire(collection string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.held[collection]; busy {
		return false
	}
	t.held[collection] = struct{}{}
	return true
}

// release frees the collection's lock. Releasing an unheld lock is a no-op.
func (t *lockTable) release(collection string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.held, collection)
}
