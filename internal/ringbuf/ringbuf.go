// Package ringbuf implements a fixed-capacity FIFO that evicts the oldest
// element on overflow.
package ringbuf

import "errors"

// ErrInvalidCapacity is returned by [New] for capacities below one.
var ErrInvalidCapacity = errors.New("ring buffer capacity must be positive")

// Buffer is not safe for concurrent use; owners guard it with their own lock.
type Buffer[T any] struct {
	items   []T
	start   int
	size    int
	evicted uint64
}

// New returns an empty buffer holding at most capacity elements.
func New[T any](capacity int) (*Buffer[T], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}

	return &Buffer[T]{items: make([]T, capacity)}, nil
}

// Push appends values in order, evicting the oldest elements when full.
func (b *Buffer[T]) Push(values ...T) {
	capacity := len(b.items)

	for _, v := range values {
		end := (b.start + b.size) % capacity
		b.items[end] = v

		if b.size < capacity {
			b.size++
			continue
		}

		b.start = (b.start + 1) % capacity
		b.evicted++
	}
}

// Len returns the number of stored elements.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Evicted returns how many elements were dropped because the buffer was full.
func (b *Buffer[T]) Evicted() uint64 { return b.evicted }

// Items returns a copy of the stored elements, oldest first.
func (b *Buffer[T]) Items() []T {
	out := make([]T, b.size)
	for i := range b.size {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}

	return out
}

// Last returns the newest n elements (or fewer), oldest first.
func (b *Buffer[T]) Last(n int) []T {
	if n > b.size {
		n = b.size
	}

	if n <= 0 {
		return nil
	}

	out := make([]T, n)
	skip := b.size - n

	for i := range n {
		out[i] = b.items[(b.start+skip+i)%len(b.items)]
	}

	return out
}
