// Package notify provides the two observer primitives used across the MDIB:
// a [Hub] that fans values out to explicit subscribers, and a [Monitor] that
// wakes every waiter when something changed.
//
// Subscriptions are released with [Subscription.Close]; nothing is cleaned up
// implicitly.
package notify

import (
	"slices"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the channel capacity used when Subscribe is called with a
// non-positive buffer size.
const DefaultBuffer = 64

// Hub delivers published values to all current subscribers.
//
// Publish never blocks: a subscriber whose channel is full misses the value and
// its drop counter is incremented. Subscribers that must not miss values should
// use a buffer large enough for their consumption rate.
type Hub[T any] struct {
	mu   sync.Mutex
	subs []*Subscription[T]
}

// NewHub returns an empty hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{}
}

// Subscription is a single registration on a [Hub].
type Subscription[T any] struct {
	hub     *Hub[T]
	ch      chan T
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe registers a new subscriber with the given channel capacity.
func (h *Hub[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	sub := &Subscription[T]{
		hub: h,
		ch:  make(chan T, buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.subs = append(h.subs, sub)

	return sub
}

// Publish sends v to every subscriber without blocking.
func (h *Hub[T]) Publish(v T) {
	// held across the sends so Close cannot close a channel mid-send
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		select {
		case sub.ch <- v:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

// CloseAll closes every subscription.
func (h *Hub[T]) CloseAll() {
	h.mu.Lock()
	subs := slices.Clone(h.subs)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (h *Hub[T]) removeLocked(sub *Subscription[T]) {
	i := slices.Index(h.subs, sub)
	if i < 0 {
		return
	}

	next := slices.Clone(h.subs)
	h.subs = slices.Delete(next, i, i+1)
}

// C returns the receive channel. It is closed by [Subscription.Close].
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Dropped returns how many values were not delivered because the channel was full.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel. Safe to call
// multiple times.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()

		s.hub.removeLocked(s)
		close(s.ch)
	})
}
