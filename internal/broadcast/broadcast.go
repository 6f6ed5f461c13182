// Package broadcast implements a small fan-out value holder: any number of
// listeners subscribe, each new listener receives the current value right
// away, and every Publish is delivered to all listeners.
package broadcast

import (
	"sort"
	"sync"
)

// Broadcaster holds the latest value of T and its listeners.
// It is safe for concurrent use. Deliveries are serialised, so every listener
// sees values in the order they became current. Listeners are invoked outside
// the state lock: a listener may call Current or unsubscribe, but must not
// Publish, Update or Subscribe on the same Broadcaster.
type Broadcaster[T any] struct {
	// deliverMu orders deliveries; it is taken before mu.
	deliverMu sync.Mutex
	mu        sync.Mutex
	current   T
	nextID    uint64
	listeners map[uint64]func(T)
}

// New returns a Broadcaster seeded with initial.
func New[T any](initial T) *Broadcaster[T] {
	return &Broadcaster[T]{current: initial, listeners: make(map[uint64]func(T))}
}

// Current returns the latest published value.
func (b *Broadcaster[T]) Current() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe registers fn and immediately calls it with the current value.
// The returned function detaches fn; calling it more than once is a no-op.
func (b *Broadcaster[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.deliverMu.Lock()
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	current := b.current
	b.mu.Unlock()

	deliver(fn, current)
	b.deliverMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Publish stores v as the current value and notifies every listener.
func (b *Broadcaster[T]) Publish(v T) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	b.current = v
	fns := b.snapshot()
	b.mu.Unlock()

	for _, fn := range fns {
		deliver(fn, v)
	}
}

// Update applies fn to the current value under the lock, publishes the
// result and returns it.
func (b *Broadcaster[T]) Update(fn func(T) T) T {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	b.current = fn(b.current)
	v := b.current
	fns := b.snapshot()
	b.mu.Unlock()

	for _, l := range fns {
		deliver(l, v)
	}
	return v
}

// PublishIfChanged publishes v only when equal reports it differs from the
// current value, and reports whether it did.
func (b *Broadcaster[T]) PublishIfChanged(v T, equal func(a, b T) bool) bool {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	if equal(b.current, v) {
		b.mu.Unlock()
		return false
	}
	b.current = v
	fns := b.snapshot()
	b.mu.Unlock()

	for _, fn := range fns {
		deliver(fn, v)
	}
	return true
}

// Len reports the number of attached listeners.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// snapshot returns listeners in subscription order. Caller holds b.mu.
func (b *Broadcaster[T]) snapshot() []func(T) {
	ids := make([]uint64, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.listeners[id])
	}
	return fns
}

// deliver shields the broadcaster from panicking listeners.
func deliver[T any](fn func(T), v T) {
	defer func() { _ = recover() }()
	fn(v)
}
