package multikey

import "slices"

// Index is a named secondary index. Construct it with [Unique], [Multi] or
// [OneToMany] and hand it to [New].
type Index[T comparable] struct {
	name    string
	kind    Kind
	keys    func(T) []string
	store   *Store[T]
	entries map[string][]T
}

// Unique builds an index allowing at most one object per key. key returns
// ok=false for objects that should not be indexed.
func Unique[T comparable](name string, key func(T) (string, bool)) *Index[T] {
	return newIndex(name, KindUnique, single(key))
}

// Multi builds an index allowing many objects per key.
func Multi[T comparable](name string, key func(T) (string, bool)) *Index[T] {
	return newIndex(name, KindMulti, single(key))
}

// OneToMany builds an index where one object is filed under several keys.
func OneToMany[T comparable](name string, keys func(T) []string) *Index[T] {
	return newIndex(name, KindOneToMany, keys)
}

func newIndex[T comparable](name string, kind Kind, keys func(T) []string) *Index[T] {
	return &Index[T]{
		name:    name,
		kind:    kind,
		keys:    keys,
		entries: make(map[string][]T),
	}
}

func single[T any](key func(T) (string, bool)) func(T) []string {
	return func(obj T) []string {
		k, ok := key(obj)
		if !ok {
			return nil
		}

		return []string{k}
	}
}

// keysOf returns obj's keys without duplicates, preserving first occurrence.
func (idx *Index[T]) keysOf(obj T) []string {
	keys := idx.keys(obj)
	if len(keys) < 2 {
		return keys
	}

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}

	return out
}

// Name returns the index name.
func (idx *Index[T]) Name() string { return idx.name }

// Kind returns the index kind.
func (idx *Index[T]) Kind() Kind { return idx.kind }

// Get returns the objects filed under key, in insertion order.
func (idx *Index[T]) Get(key string) []T {
	idx.store.mu.RLock()
	defer idx.store.mu.RUnlock()

	return idx.GetUnlocked(key)
}

// GetUnlocked is [Index.Get] for callers holding the store lock.
func (idx *Index[T]) GetUnlocked(key string) []T {
	return slices.Clone(idx.entries[key])
}

// GetOne returns the single object filed under key.
//
// Returns [ErrAmbiguous] if more than one object matches. If nothing matches,
// returns the zero value and nil when allowNone is set, [ErrNotFound] otherwise.
func (idx *Index[T]) GetOne(key string, allowNone bool) (T, error) {
	idx.store.mu.RLock()
	defer idx.store.mu.RUnlock()

	return idx.GetOneUnlocked(key, allowNone)
}

// GetOneUnlocked is [Index.GetOne] for callers holding the store lock.
func (idx *Index[T]) GetOneUnlocked(key string, allowNone bool) (T, error) {
	var zero T

	entries := idx.entries[key]

	switch len(entries) {
	case 0:
		if allowNone {
			return zero, nil
		}

		return zero, &Error{Index: idx.name, Key: key, Err: ErrNotFound}
	case 1:
		return entries[0], nil
	default:
		return zero, &Error{Index: idx.name, Key: key, Err: ErrAmbiguous}
	}
}

// KeysUnlocked returns all keys currently present in the index, unordered.
// The caller must hold the store lock.
func (idx *Index[T]) KeysUnlocked() []string {
	out := make([]string, 0, len(idx.entries))
	for k := range idx.entries {
		out = append(out, k)
	}

	return out
}
