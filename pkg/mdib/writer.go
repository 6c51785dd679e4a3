package mdib

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/multikey"
)

// Writer is exclusive write access to an [Mdib]. It is the only way to mutate
// the stores; the device transaction manager and the client replication
// engine are its only users.
//
// Lookups on a Writer return the live objects. They are borrowed for the
// lifetime of the Writer and must not escape it.
type Writer struct {
	m        *Mdib
	start    VersionGroup
	released bool
}

// Lock acquires the exclusive lock. The caller must call [Writer.Unlock] on
// every path.
func (m *Mdib) Lock() *Writer {
	m.mu.Lock()

	return &Writer{m: m, start: m.version.Copy()}
}

// Unlock releases the lock. If the version group changed while the writer was
// held, subscribers get exactly one notification. Safe to call twice.
func (w *Writer) Unlock() {
	if w.released {
		return
	}

	w.released = true

	changed := !w.m.version.Equal(w.start)
	current := w.m.version.Copy()

	w.m.mu.Unlock()

	if changed && !w.m.closed.Load() {
		w.m.changes.Publish(current)
	}
}

// VersionGroup returns the current version group.
func (w *Writer) VersionGroup() VersionGroup {
	return w.m.version.Copy()
}

// SetVersionGroup replaces the version group.
func (w *Writer) SetVersionGroup(v VersionGroup) {
	w.m.version = v.Copy()
}

// Descriptor returns the live descriptor or nil.
func (w *Writer) Descriptor(handle string) *Descriptor {
	d, _ := w.m.descrByID.GetOneUnlocked(handle, true)
	return d
}

// Descriptors returns all live descriptors in insertion order.
func (w *Writer) Descriptors() []*Descriptor {
	return w.m.descriptions.ObjectsUnlocked()
}

// Children returns the live direct children of handle.
func (w *Writer) Children(handle string) []*Descriptor {
	return w.m.descrByPrnt.GetUnlocked(handle)
}

// SubtreeDescriptors returns the live subtree of root in pre-order.
func (w *Writer) SubtreeDescriptors(root string) ([]*Descriptor, error) {
	return w.m.subtreeUnlocked(root)
}

// SourceMds returns the root handle owning handle.
func (w *Writer) SourceMds(handle string) (string, error) {
	return w.m.sourceMdsUnlocked(handle)
}

// OrphanedDescriptors returns descriptors whose parent is missing.
func (w *Writer) OrphanedDescriptors() []string {
	return w.m.orphansUnlocked()
}

// State returns the live state of a single-state descriptor or nil.
func (w *Writer) State(descriptorHandle string) *State {
	s, _ := w.m.stateByDscr.GetOneUnlocked(descriptorHandle, true)
	return s
}

// ContextState returns the live context state or nil.
func (w *Writer) ContextState(handle string) *State {
	s, _ := w.m.ctxByHandle.GetOneUnlocked(handle, true)
	return s
}

// ContextStates returns the live context states of a descriptor.
func (w *Writer) ContextStates(descriptorHandle string) []*State {
	return w.m.ctxByDscr.GetUnlocked(descriptorHandle)
}

// Snapshot returns a deep copy of the current content.
func (w *Writer) Snapshot() Snapshot {
	return w.m.snapshotUnlocked()
}

// AddDescriptor stores a copy of d.
//
// The handle must be unused and the parent, unless d is a root, must already
// be present.
func (w *Writer) AddDescriptor(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("%w: descriptor is nil", ErrStructural)
	}

	if d.Handle == "" {
		return fmt.Errorf("%w: descriptor handle is empty", ErrStructural)
	}

	if !d.IsRoot() && w.Descriptor(d.ParentHandle) == nil {
		return &Error{Handle: d.Handle, Parent: d.ParentHandle, Err: fmt.Errorf("%w: parent not found", ErrStructural)}
	}

	err := w.m.descriptions.AddUnlocked(d.Copy())
	if err != nil {
		return WithHandle(structural(err), d.Handle)
	}

	return nil
}

// UpdateDescriptor replaces the content of the live descriptor with d's.
// The parent link is immutable.
func (w *Writer) UpdateDescriptor(d *Descriptor) error {
	live := w.Descriptor(d.Handle)
	if live == nil {
		return &Error{Handle: d.Handle, Err: fmt.Errorf("%w: descriptor not found", ErrStructural)}
	}

	if live.ParentHandle != d.ParentHandle {
		return &Error{Handle: d.Handle, Parent: d.ParentHandle, Err: fmt.Errorf("%w: parent handle cannot change", ErrStructural)}
	}

	live.UpdateFrom(d)

	err := w.m.descriptions.UpdateUnlocked(live)
	if err != nil {
		return WithHandle(structural(err), d.Handle)
	}

	return nil
}

// RemoveDescriptor removes the descriptor and every state that belongs to it.
// Child descriptors are left in place; see [Writer.OrphanedDescriptors].
// Returns the removed states.
func (w *Writer) RemoveDescriptor(handle string) ([]*State, error) {
	live := w.Descriptor(handle)
	if live == nil {
		return nil, &Error{Handle: handle, Err: fmt.Errorf("%w: descriptor not found", ErrStructural)}
	}

	var removed []*State

	if s := w.State(handle); s != nil {
		_ = w.m.states.RemoveUnlocked(s)
		removed = append(removed, s)
	}

	for _, s := range w.ContextStates(handle) {
		_ = w.m.contextStates.RemoveUnlocked(s)
		removed = append(removed, s)
	}

	err := w.m.descriptions.RemoveUnlocked(live)
	if err != nil {
		return removed, WithHandle(structural(err), handle)
	}

	return removed, nil
}

// PutState stores s as the state of its descriptor. An existing state is
// updated in place; otherwise a copy of s is inserted. The descriptor must be
// present, single-state and of the same node type.
func (w *Writer) PutState(s *State) (bool, error) {
	d, err := w.checkStateDescriptor(s)
	if err != nil {
		return false, err
	}

	if d.IsContextDescriptor() {
		return false, &Error{Handle: s.DescriptorHandle, Err: fmt.Errorf("%w: context descriptor needs context states", ErrStructural)}
	}

	live := w.State(s.DescriptorHandle)
	if live != nil {
		live.UpdateFrom(s)
		return false, nil
	}

	err = w.m.states.AddUnlocked(s.Copy())
	if err != nil {
		return false, WithHandle(structural(err), s.DescriptorHandle)
	}

	return true, nil
}

// RemoveState removes the state of a single-state descriptor, if any.
func (w *Writer) RemoveState(descriptorHandle string) bool {
	s := w.State(descriptorHandle)
	if s == nil {
		return false
	}

	_ = w.m.states.RemoveUnlocked(s)

	return true
}

// PutContextState stores a context state keyed by its own handle.
func (w *Writer) PutContextState(s *State) (bool, error) {
	d, err := w.checkStateDescriptor(s)
	if err != nil {
		return false, err
	}

	if !d.IsContextDescriptor() {
		return false, &Error{Handle: s.DescriptorHandle, Err: fmt.Errorf("%w: not a context descriptor", ErrStructural)}
	}

	if s.Handle == "" {
		return false, &Error{Handle: s.DescriptorHandle, Err: fmt.Errorf("%w: context state handle is empty", ErrStructural)}
	}

	live := w.ContextState(s.Handle)
	if live != nil {
		if live.DescriptorHandle != s.DescriptorHandle {
			return false, &Error{Handle: s.Handle, Err: fmt.Errorf("%w: context state moved to another descriptor", ErrStructural)}
		}

		live.UpdateFrom(s)

		return false, nil
	}

	err = w.m.contextStates.AddUnlocked(s.Copy())
	if err != nil {
		return false, WithHandle(structural(err), s.Handle)
	}

	return true, nil
}

// RemoveContextState removes a context state by its handle.
func (w *Writer) RemoveContextState(handle string) bool {
	s := w.ContextState(handle)
	if s == nil {
		return false
	}

	_ = w.m.contextStates.RemoveUnlocked(s)

	return true
}

// Clear removes all descriptors and states. The version group is kept.
func (w *Writer) Clear() {
	w.m.descriptions.ClearUnlocked()
	w.m.states.ClearUnlocked()
	w.m.contextStates.ClearUnlocked()
}

// Load bulk-inserts a snapshot into an empty MDIB and adopts its version
// group. Descriptors are inserted parents first regardless of their order in
// the snapshot.
func (w *Writer) Load(snap Snapshot) error {
	if w.m.descriptions.LenUnlocked() != 0 {
		return fmt.Errorf("%w: load into non-empty mdib", ErrAPIUsage)
	}

	err := snap.Validate()
	if err != nil {
		return err
	}

	for _, d := range snap.parentFirst() {
		err = w.AddDescriptor(d)
		if err != nil {
			w.Clear()
			return err
		}
	}

	for _, s := range snap.States {
		if s.IsContextState() {
			_, err = w.PutContextState(s)
		} else {
			_, err = w.PutState(s)
		}

		if err != nil {
			w.Clear()
			return err
		}
	}

	if snap.Version.SequenceID != "" {
		w.SetVersionGroup(snap.Version)
	}

	w.m.log.WithFields(logrus.Fields{
		"descriptors": len(snap.Descriptors),
		"states":      len(snap.States),
		"version":     snap.Version.MdibVersion,
	}).Debug("mdib loaded")

	return nil
}

// Restore replaces the whole content with snap, a snapshot previously taken
// from this MDIB, keeping its order so a later Snapshot is identical to it.
// Nothing is validated.
func (w *Writer) Restore(snap Snapshot) error {
	w.Clear()

	for _, d := range snap.Descriptors {
		err := w.m.descriptions.AddUnlocked(d.Copy())
		if err != nil {
			return WithHandle(err, d.Handle)
		}
	}

	for _, s := range snap.States {
		store := w.m.states
		if s.IsContextState() {
			store = w.m.contextStates
		}

		err := store.AddUnlocked(s.Copy())
		if err != nil {
			return WithHandle(err, s.Key())
		}
	}

	w.SetVersionGroup(snap.Version)

	return nil
}

func (w *Writer) checkStateDescriptor(s *State) (*Descriptor, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: state is nil", ErrStructural)
	}

	d := w.Descriptor(s.DescriptorHandle)
	if d == nil {
		return nil, &Error{Handle: s.DescriptorHandle, Err: fmt.Errorf("%w: state for unknown descriptor", ErrStructural)}
	}

	if s.NodeType != d.NodeType {
		return nil, &Error{
			Handle: s.DescriptorHandle,
			Err:    fmt.Errorf("%w: state node type %s does not match descriptor %s", ErrStructural, s.NodeType, d.NodeType),
		}
	}

	return d, nil
}

func structural(err error) error {
	if errors.Is(err, multikey.ErrDuplicateKey) || errors.Is(err, multikey.ErrAlreadyPresent) {
		return fmt.Errorf("%w: %w", ErrStructural, err)
	}

	return err
}
