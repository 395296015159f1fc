package dynamic

import (
	"fmt"
	"slices"
	"sync"
)

// SensorRegistry multiplexes any number of expression bindings onto a
// small set of SensorProviders. Each provider is registered with the
// union of the keys currently wanted by live bindings: the union grows
// and shrinks as bindings come and go, and the provider is unregistered
// exactly once when the last interested binding releases.
type SensorRegistry struct {
	mu    sync.Mutex
	byKey map[SensorKey]*registeredProvider
	all   []*registeredProvider
}

// NewSensorRegistry returns an empty registry.
func NewSensorRegistry() *SensorRegistry {
	return &SensorRegistry{byKey: make(map[SensorKey]*registeredProvider)}
}

// AddProvider makes p the source for the given keys. Each key belongs
// to at most one provider.
func (r *SensorRegistry) AddProvider(p SensorProvider, keys ...SensorKey) error {
	if p == nil {
		return fmt.Errorf("dynamic: nil sensor provider")
	}
	if len(keys) == 0 {
		return fmt.Errorf("dynamic: sensor provider with no keys")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		if _, taken := r.byKey[k]; taken {
			return fmt.Errorf("dynamic: sensor key %q already has a provider", k)
		}
	}
	rp := &registeredProvider{
		provider: p,
		interest: make(map[SensorKey]map[int]func(Value)),
	}
	for _, k := range keys {
		r.byKey[k] = rp
	}
	r.all = append(r.all, rp)
	return nil
}

// Supports reports whether some provider serves key.
func (r *SensorRegistry) Supports(key SensorKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byKey[key]
	return ok
}

// Keys lists every key served by a registered provider, sorted.
func (r *SensorRegistry) Keys() []SensorKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]SensorKey, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// acquire adds interest in key and routes its readings to fn. The
// returned release func withdraws the interest; it is idempotent.
func (r *SensorRegistry) acquire(key SensorKey, fn func(Value)) (func(), error) {
	r.mu.Lock()
	rp, ok := r.byKey[key]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dynamic: no provider for sensor key %q", key)
	}
	id := rp.add(key, fn)
	if err := rp.sync(); err != nil {
		rp.remove(key, id)
		return nil, fmt.Errorf("dynamic: register sensor keys: %w", err)
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			rp.remove(key, id)
			rp.sync()
		})
	}
	return release, nil
}

// registeredProvider tracks one provider plus the interest in its keys.
type registeredProvider struct {
	provider SensorProvider

	mu       sync.Mutex
	interest map[SensorKey]map[int]func(Value)
	nextID   int

	// regMu serializes RegisterForKeys/Unregister so the provider sees
	// a coherent sequence of key sets even under concurrent bindings.
	regMu   sync.Mutex
	applied []SensorKey
}

func (rp *registeredProvider) add(key SensorKey, fn func(Value)) int {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	id := rp.nextID
	rp.nextID++
	m := rp.interest[key]
	if m == nil {
		m = make(map[int]func(Value))
		rp.interest[key] = m
	}
	m[id] = fn
	return id
}

func (rp *registeredProvider) remove(key SensorKey, id int) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	m := rp.interest[key]
	if m == nil {
		return
	}
	delete(m, id)
	if len(m) == 0 {
		delete(rp.interest, key)
	}
}

// sync reconciles the provider registration with current interest.
// Provider calls happen outside rp.mu so a provider that dispatches
// readings inline cannot deadlock against add/remove.
func (rp *registeredProvider) sync() error {
	rp.regMu.Lock()
	defer rp.regMu.Unlock()

	rp.mu.Lock()
	desired := make([]SensorKey, 0, len(rp.interest))
	for k := range rp.interest {
		desired = append(desired, k)
	}
	rp.mu.Unlock()
	slices.Sort(desired)

	if slices.Equal(desired, rp.applied) {
		return nil
	}
	if len(desired) == 0 {
		err := rp.provider.Unregister()
		rp.applied = nil
		return err
	}
	if err := rp.provider.RegisterForKeys(desired, rp.dispatch); err != nil {
		return err
	}
	rp.applied = desired
	return nil
}

// dispatch fans one reading out to every interest on its key. The
// callback list is copied out of the lock before invocation.
func (rp *registeredProvider) dispatch(key SensorKey, v Value) {
	rp.mu.Lock()
	fns := make([]func(Value), 0, len(rp.interest[key]))
	for _, fn := range rp.interest[key] {
		fns = append(fns, fn)
	}
	rp.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
