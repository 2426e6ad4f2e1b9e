package lease

import (
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned when no entry exists for a key
	ErrNotFound = errors.New("lease: not found")

	// ErrBusy is returned when the entry is currently held by another operation
	ErrBusy = errors.New("lease: busy")

	// ErrExists is returned by Insert when the key is already taken
	ErrExists = errors.New("lease: already exists")
)

type entry[V any] struct {
	value  V
	busy   bool
	doomed bool
}

// Registry is a map of exclusive leases. Each key is either absent, Busy
// (its value is out with exactly one holder) or Ready (parked in the map).
// The mutex is only held while the tag is read or written, never while a
// holder works on the value.
type Registry[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
}

// New creates an empty registry
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{entries: make(map[K]*entry[V])}
}

// Insert adds key in the Busy state. The caller holds the lease until
// Release or Remove.
func (r *Registry[K, V]) Insert(key K) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; ok {
		return ErrExists
	}
	r.entries[key] = &entry[V]{busy: true}
	return nil
}

// Acquire marks a Ready entry Busy and hands its value to the caller.
func (r *Registry[K, V]) Acquire(key K) (V, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero V
	e, ok := r.entries[key]
	if !ok {
		return zero, ErrNotFound
	}
	if e.busy {
		return zero, ErrBusy
	}
	e.busy = true
	v := e.value
	e.value = zero
	return v, nil
}

// AcquireOrCreate behaves like Acquire, but creates the value with create
// when the key is absent. created reports which path was taken.
func (r *Registry[K, V]) AcquireOrCreate(key K, create func() V) (v V, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		r.entries[key] = &entry[V]{busy: true}
		return create(), true, nil
	}
	if e.busy {
		return v, false, ErrBusy
	}
	e.busy = true
	v = e.value
	var zero V
	e.value = zero
	return v, false, nil
}

// Release parks v under key and marks it Ready. If the key was forgotten
// while Busy the value is dropped instead and Release returns false.
func (r *Registry[K, V]) Release(key K, v V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	if e.doomed {
		delete(r.entries, key)
		return false
	}
	e.value = v
	e.busy = false
	return true
}

// Remove drops the key regardless of its state. The holder of a Busy
// entry must use it instead of Release when it abandons the value.
func (r *Registry[K, V]) Remove(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Forget removes a Ready entry and returns its value. A Busy entry is
// marked so that its value is dropped on Release, and ErrBusy is returned.
func (r *Registry[K, V]) Forget(key K) (V, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero V
	e, ok := r.entries[key]
	if !ok {
		return zero, ErrNotFound
	}
	if e.busy {
		e.doomed = true
		return zero, ErrBusy
	}
	delete(r.entries, key)
	return e.value, nil
}

// Len returns the number of entries in any state
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
