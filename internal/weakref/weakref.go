// Package weakref emulates weak references for the connection engine's
// topology, where a connection task must not keep the server, its handler,
// or its shutdown timer alive past their owner dropping them. Go has no
// native weak pointer before the runtime's weak package (1.24+); this
// package follows the fallback the distant connection design calls out:
// a liveness flag shared between one Strong owner and any number of Weak
// handles minted from it.
package weakref

import "sync/atomic"

// Strong owns a value of type T and can mint any number of Weak handles
// to it. Calling Drop does not release the value itself (Go is garbage
// collected) but flips every outstanding Weak handle's Upgrade to fail,
// which is the only thing callers actually depend on.
type Strong[T any] struct {
	value T
	alive *atomic.Bool
}

// NewStrong wraps value as the sole strong owner.
func NewStrong[T any](value T) *Strong[T] {
	alive := &atomic.Bool{}
	alive.Store(true)
	return &Strong[T]{value: value, alive: alive}
}

// Weak mints a new weak handle to s's value.
func (s *Strong[T]) Weak() Weak[T] {
	return Weak[T]{value: s.value, alive: s.alive}
}

// Drop marks s's value as gone. Safe to call more than once.
func (s *Strong[T]) Drop() {
	s.alive.Store(false)
}

// Weak is a handle that can observe whether its Strong owner has dropped
// its value. It holds its own reference to the value, so it keeps that
// value reachable; dropping the owner only changes what Upgrade reports.
type Weak[T any] struct {
	value T
	alive *atomic.Bool
}

// Upgrade returns the underlying value and true if its Strong owner has
// not called Drop, or the zero value and false otherwise.
func (w Weak[T]) Upgrade() (T, bool) {
	if w.alive == nil || !w.alive.Load() {
		var zero T
		return zero, false
	}
	return w.value, true
}
