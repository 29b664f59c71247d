// Package locks provides a keyed mutex map for serializing work per
// conversation or per tenant without one global lock.
package locks

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex hands out one mutex per key. Entries are reference counted
// and removed as soon as the last holder releases, so the map never grows
// with dead keys.
type KeyedMutex struct {
	guard   sync.Mutex
	entries map[string]*entry
}

// NewKeyedMutex creates an empty keyed mutex map.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *KeyedMutex) Lock(key string) func() {
	k.guard.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.guard.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			k.guard.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.entries, key)
			}
			k.guard.Unlock()
		})
	}
}

// TenantKey names the lock entry serializing writes for one course
// material pair. Course-wide operations pass an empty material id.
func TenantKey(courseID, materialID string) string {
	return "tenant:" + courseID + "/" + materialID
}

// Len returns the number of live entries, for tests and introspection.
func (k *KeyedMutex) Len() int {
	k.guard.Lock()
	defer k.guard.Unlock()
	return len(k.entries)
}
