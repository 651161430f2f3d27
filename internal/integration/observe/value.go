// Package observe provides a small observable value used to publish
// session state such as the current breakpoint line.
package observe

import "sync"

// Listener is called with the new value after it changes.
type Listener[T any] func(value T)

// Value holds a value of type T and notifies listeners when it changes.
//
// Listeners run synchronously in the goroutine that called Set, after the
// internal lock is released, so a listener may call Get or Set itself.
// Value is safe for concurrent use.
type Value[T comparable] struct {
	mu        sync.RWMutex
	value     T
	listeners map[uint64]Listener[T]
	nextID    uint64
}

// NewValue creates a Value holding initial.
func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{value: initial}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set stores value. Listeners are notified only if the value changed.
// It reports whether a change happened.
func (v *Value[T]) Set(value T) bool {
	v.mu.Lock()
	if v.value == value {
		v.mu.Unlock()
		return false
	}
	v.value = value
	listeners := v.snapshot()
	v.mu.Unlock()

	for _, fn := range listeners {
		fn(value)
	}
	return true
}

// Listen registers fn and returns a function that removes it.
// fn is not called with the current value; use Get for that.
func (v *Value[T]) Listen(fn Listener[T]) (cancel func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.listeners == nil {
		v.listeners = make(map[uint64]Listener[T])
	}
	id := v.nextID
	v.nextID++
	v.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.listeners, id)
			v.mu.Unlock()
		})
	}
}

// snapshot copies the listeners in registration order. Caller holds mu.
func (v *Value[T]) snapshot() []Listener[T] {
	out := make([]Listener[T], 0, len(v.listeners))
	for id := uint64(0); id < v.nextID; id++ {
		if fn, ok := v.listeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
