// Package mailbox provides a single-slot, latest-value-wins container that
// decouples a producer from a slower consumer.
package mailbox

import "sync"

// Latest holds at most one value. Publish overwrites, Latest reads without
// removing. A published value must not be mutated afterwards.
type Latest[T any] struct {
	mu    sync.Mutex
	value T
	ok    bool
}

func (l *Latest[T]) Publish(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.value = v
	l.ok = true
}

// Latest returns the most recent value and whether one was ever published.
func (l *Latest[T]) Latest() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.value, l.ok
}

func (l *Latest[T]) HasValue() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.ok
}
