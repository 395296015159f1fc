// Package source holds the host-side data sources complication
// expressions bind to: an in-memory state store, tick gateways, and a
// simulated sensor provider.
package source

import (
	"maps"
	"sync"

	"github.com/starford/dagaz/internal/dynamic"
)

var _ dynamic.StateStore = (*MemoryStateStore)(nil)

// MemoryStateStore is a concurrency-safe key/value store implementing
// dynamic.StateStore. Subscribers are notified of effective changes
// only: setting a key to its current value is a no-op.
type MemoryStateStore struct {
	mu   sync.Mutex
	vals map[string]dynamic.Value
	subs map[string]map[int]func(dynamic.Value, bool)
	next int
}

// NewMemoryStateStore returns an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		vals: make(map[string]dynamic.Value),
		subs: make(map[string]map[int]func(dynamic.Value, bool)),
	}
}

// Lookup implements dynamic.StateStore.
func (s *MemoryStateStore) Lookup(key string) (dynamic.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	return v, ok
}

// Subscribe implements dynamic.StateStore. The returned cancel func is
// idempotent.
func (s *MemoryStateStore) Subscribe(key string, fn func(v dynamic.Value, ok bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	m := s.subs[key]
	if m == nil {
		m = make(map[int]func(dynamic.Value, bool))
		s.subs[key] = m
	}
	m[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if m, ok := s.subs[key]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(s.subs, key)
			}
		}
	}
}

// Set stores a value and notifies the key's subscribers when the value
// actually changed.
func (s *MemoryStateStore) Set(key string, v dynamic.Value) {
	s.mu.Lock()
	old, existed := s.vals[key]
	if existed && old.Equal(v) {
		s.mu.Unlock()
		return
	}
	s.vals[key] = v
	fns := s.subscribers(key)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(v, true)
	}
}

// Delete removes a key and notifies its subscribers with ok=false.
func (s *MemoryStateStore) Delete(key string) {
	s.mu.Lock()
	if _, existed := s.vals[key]; !existed {
		s.mu.Unlock()
		return
	}
	delete(s.vals, key)
	fns := s.subscribers(key)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(dynamic.Value{}, false)
	}
}

// Replace swaps the entire contents for vals, diffing against the old
// state so only keys that effectively changed (including removals) get
// notifications. It returns the changed keys. Used by the state-file
// watcher on reload.
func (s *MemoryStateStore) Replace(vals map[string]dynamic.Value) []string {
	type note struct {
		fns []func(dynamic.Value, bool)
		v   dynamic.Value
		ok  bool
	}
	var notes []note
	var changed []string

	s.mu.Lock()
	for key := range s.vals {
		if _, keep := vals[key]; !keep {
			delete(s.vals, key)
			notes = append(notes, note{fns: s.subscribers(key), ok: false})
			changed = append(changed, key)
		}
	}
	for key, v := range vals {
		old, existed := s.vals[key]
		if existed && old.Equal(v) {
			continue
		}
		s.vals[key] = v
		notes = append(notes, note{fns: s.subscribers(key), v: v, ok: true})
		changed = append(changed, key)
	}
	s.mu.Unlock()

	for _, n := range notes {
		for _, fn := range n.fns {
			fn(n.v, n.ok)
		}
	}
	return changed
}

// Snapshot copies the current contents.
func (s *MemoryStateStore) Snapshot() map[string]dynamic.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.vals)
}

// Len reports the number of stored keys.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vals)
}

// subscribers must be called with s.mu held; the returned slice is safe
// to invoke after unlock.
func (s *MemoryStateStore) subscribers(key string) []func(dynamic.Value, bool) {
	m := s.subs[key]
	if len(m) == 0 {
		return nil
	}
	fns := make([]func(dynamic.Value, bool), 0, len(m))
	for _, fn := range m {
		fns = append(fns, fn)
	}
	return fns
}
