// Package multikey is an in-memory table of objects with pluggable secondary
// indices.
//
// Each [Index] is a pure function from object to key(s) plus a reverse map
// from key to the objects stored under it. Three kinds exist:
//   - [Unique]: at most one object per key, a second insert fails
//   - [Multi]: any number of objects per key
//   - [OneToMany]: a single object contributes to several keys
//
// # Concurrency
//
// Mutating and reading methods come in two flavours. The plain one
// acquires the store lock itself; the *Unlocked one expects the caller to hold
// it via [Store.Lock] / [Store.RLock]. Composite operations (read, decide,
// write) must take the lock once and use the unlocked variants to be atomic.
//
// Several stores may share one lock through [WithMutex].
package multikey

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Kind selects the cardinality rules of an index.
type Kind int

const (
	KindUnique Kind = iota
	KindMulti
	KindOneToMany
)

func (k Kind) String() string {
	switch k {
	case KindUnique:
		return "unique"
	case KindMulti:
		return "multi"
	case KindOneToMany:
		return "one-to-many"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Option configures a [Store].
type Option func(*options)

type options struct {
	mu *sync.RWMutex
}

// WithMutex makes the store use mu instead of a private lock.
func WithMutex(mu *sync.RWMutex) Option {
	return func(o *options) {
		o.mu = mu
	}
}

// Store holds objects of type T, normally pointers, identified by equality.
type Store[T comparable] struct {
	mu      *sync.RWMutex
	indices []*Index[T]
	byName  map[string]*Index[T]
	objects map[T]*record
	seq     uint64
}

// record remembers where an object was filed, so Update and Remove work
// even after the object was mutated in place.
type record struct {
	seq  uint64
	keys [][]string // per index, same order as Store.indices
}

// New creates a store with the given indices. An index can only belong to one store.
func New[T comparable](indices []*Index[T], opts ...Option) (*Store[T], error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.mu == nil {
		o.mu = &sync.RWMutex{}
	}

	s := &Store[T]{
		mu:      o.mu,
		byName:  make(map[string]*Index[T], len(indices)),
		objects: make(map[T]*record),
	}

	for _, idx := range indices {
		if idx == nil {
			return nil, errors.New("index is nil")
		}

		if idx.name == "" {
			return nil, errors.New("index name is empty")
		}

		if _, dup := s.byName[idx.name]; dup {
			return nil, fmt.Errorf("duplicate index name %q", idx.name)
		}

		if idx.store != nil {
			return nil, fmt.Errorf("index %q already belongs to a store", idx.name)
		}

		idx.store = s
		s.byName[idx.name] = idx
		s.indices = append(s.indices, idx)
	}

	return s, nil
}

// Lock acquires the store lock for writing.
func (s *Store[T]) Lock() { s.mu.Lock() }

// Unlock releases the write lock.
func (s *Store[T]) Unlock() { s.mu.Unlock() }

// RLock acquires the store lock for reading.
func (s *Store[T]) RLock() { s.mu.RLock() }

// RUnlock releases the read lock.
func (s *Store[T]) RUnlock() { s.mu.RUnlock() }

// Index returns the index registered under name, or nil.
func (s *Store[T]) Index(name string) *Index[T] {
	return s.byName[name]
}

// Add inserts obj into the store and all indices.
func (s *Store[T]) Add(obj T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.AddUnlocked(obj)
}

// AddUnlocked is [Store.Add] for callers holding the write lock.
//
// Either every index entry is added or none: unique conflicts are detected
// before anything is written.
func (s *Store[T]) AddUnlocked(obj T) error {
	if _, ok := s.objects[obj]; ok {
		return ErrAlreadyPresent
	}

	keys := s.keysOf(obj)

	err := s.checkUnique(obj, keys)
	if err != nil {
		return err
	}

	s.seq++
	s.objects[obj] = &record{seq: s.seq, keys: keys}
	s.file(obj, keys)

	return nil
}

// Remove deletes obj from the store and all indices.
func (s *Store[T]) Remove(obj T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.RemoveUnlocked(obj)
}

// RemoveUnlocked is [Store.Remove] for callers holding the write lock.
func (s *Store[T]) RemoveUnlocked(obj T) error {
	rec, ok := s.objects[obj]
	if !ok {
		return ErrUnknownObject
	}

	s.unfile(obj, rec.keys)
	delete(s.objects, obj)

	return nil
}

// Update recomputes obj's position in every index after it was mutated.
func (s *Store[T]) Update(obj T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.UpdateUnlocked(obj)
}

// UpdateUnlocked is [Store.Update] for callers holding the write lock.
//
// On a unique conflict the object keeps its previous index positions.
func (s *Store[T]) UpdateUnlocked(obj T) error {
	rec, ok := s.objects[obj]
	if !ok {
		return ErrUnknownObject
	}

	keys := s.keysOf(obj)

	err := s.checkUnique(obj, keys)
	if err != nil {
		return err
	}

	s.unfile(obj, rec.keys)
	s.file(obj, keys)
	rec.keys = keys

	return nil
}

// Contains reports whether obj is stored.
func (s *Store[T]) Contains(obj T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ContainsUnlocked(obj)
}

// ContainsUnlocked is [Store.Contains] for callers holding the lock.
func (s *Store[T]) ContainsUnlocked(obj T) bool {
	_, ok := s.objects[obj]
	return ok
}

// Len returns the number of stored objects.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.objects)
}

// LenUnlocked is [Store.Len] for callers holding the lock.
func (s *Store[T]) LenUnlocked() int {
	return len(s.objects)
}

// Objects returns all objects in insertion order.
func (s *Store[T]) Objects() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ObjectsUnlocked()
}

// ObjectsUnlocked is [Store.Objects] for callers holding the lock.
func (s *Store[T]) ObjectsUnlocked() []T {
	out := make([]T, 0, len(s.objects))
	for obj := range s.objects {
		out = append(out, obj)
	}

	sort.Slice(out, func(i, j int) bool {
		return s.objects[out[i]].seq < s.objects[out[j]].seq
	})

	return out
}

// Clear removes every object.
func (s *Store[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ClearUnlocked()
}

// ClearUnlocked is [Store.Clear] for callers holding the write lock.
func (s *Store[T]) ClearUnlocked() {
	clear(s.objects)

	for _, idx := range s.indices {
		clear(idx.entries)
	}
}

// Predicate selects objects in [Store.Find].
type Predicate[T any] func(T) bool

// Equal builds a predicate comparing an attribute of the object to want.
func Equal[T any, V comparable](get func(T) V, want V) Predicate[T] {
	return func(obj T) bool {
		return get(obj) == want
	}
}

// Find returns the objects matching any of preds, in insertion order. With no
// predicates every object matches. This is a linear scan.
func (s *Store[T]) Find(preds ...Predicate[T]) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.FindUnlocked(preds...)
}

// FindUnlocked is [Store.Find] for callers holding the lock.
func (s *Store[T]) FindUnlocked(preds ...Predicate[T]) []T {
	all := s.ObjectsUnlocked()
	if len(preds) == 0 {
		return all
	}

	out := all[:0]

	for _, obj := range all {
		for _, pred := range preds {
			if pred(obj) {
				out = append(out, obj)
				break
			}
		}
	}

	return out
}

func (s *Store[T]) keysOf(obj T) [][]string {
	keys := make([][]string, len(s.indices))
	for i, idx := range s.indices {
		keys[i] = idx.keysOf(obj)
	}

	return keys
}

func (s *Store[T]) checkUnique(obj T, keys [][]string) error {
	for i, idx := range s.indices {
		if idx.kind != KindUnique {
			continue
		}

		for _, key := range keys[i] {
			existing := idx.entries[key]
			if len(existing) == 0 {
				continue
			}

			if len(existing) == 1 && existing[0] == obj {
				continue
			}

			return &Error{Index: idx.name, Key: key, Err: ErrDuplicateKey}
		}
	}

	return nil
}

func (s *Store[T]) file(obj T, keys [][]string) {
	for i, idx := range s.indices {
		for _, key := range keys[i] {
			idx.entries[key] = append(idx.entries[key], obj)
		}
	}
}

func (s *Store[T]) unfile(obj T, keys [][]string) {
	for i, idx := range s.indices {
		for _, key := range keys[i] {
			entries := idx.entries[key]

			pos := slices.Index(entries, obj)
			if pos < 0 {
				continue
			}

			entries = slices.Delete(entries, pos, pos+1)
			if len(entries) == 0 {
				delete(idx.entries, key)
				continue
			}

			idx.entries[key] = entries
		}
	}
}
