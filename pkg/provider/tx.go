package provider

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
)

type opKind int

const (
	opCreate opKind = iota + 1
	opUpdate
	opDelete
)

type descrOp struct {
	kind opKind
	d    *mdib.Descriptor
	seq  int
}

type stateOp struct {
	s      *mdib.State
	remove bool
	seq    int
}

// Tx stages descriptor and state changes against the live MDIB.
//
// Nothing is visible to readers until [Tx.Commit]. Staging calls validate
// against the live content plus what is already staged; a structural
// violation returns an error wrapping [mdib.ErrStructural] and aborts the
// transaction. Multiple changes to the same handle are allowed; the last one
// wins.
//
// A Tx is not safe for concurrent use.
type Tx struct {
	p   *Provider
	w   *mdib.Writer
	ctx context.Context

	descr    map[string]*descrOp // by descriptor handle
	states   map[string]*stateOp // single states by descriptor handle
	contexts map[string]*stateOp // context states by state handle
	seq      int

	closed bool
}

// Context returns the ctx passed to Begin, marked with this transaction.
// Passing it to Begin of the same provider fails instead of deadlocking.
func (tx *Tx) Context() context.Context {
	return tx.ctx
}

// VersionGroup returns the version group the transaction started at.
func (tx *Tx) VersionGroup() mdib.VersionGroup {
	return tx.w.VersionGroup()
}

func (tx *Tx) nextSeq() int {
	tx.seq++
	return tx.seq
}

func (tx *Tx) check() error {
	if tx == nil {
		return fmt.Errorf("%w: tx is nil", mdib.ErrAPIUsage)
	}

	if tx.closed {
		return ErrTxClosed
	}

	return nil
}

// abort rolls back and returns err.
func (tx *Tx) abort(err error) error {
	tx.p.log.WithError(err).Warn("transaction aborted")
	tx.Rollback()

	return err
}

func structuralf(handle, format string, args ...any) error {
	return &mdib.Error{Handle: handle, Err: fmt.Errorf("%w: "+format, append([]any{mdib.ErrStructural}, args...)...)}
}

// descriptor returns the effective descriptor: staged if any, else live.
// The result is shared and must not be modified.
func (tx *Tx) descriptor(handle string) *mdib.Descriptor {
	if op, ok := tx.descr[handle]; ok {
		if op.kind == opDelete {
			return nil
		}

		return op.d
	}

	return tx.w.Descriptor(handle)
}

// Descriptor returns a copy of the effective descriptor, or nil if it does
// not exist or is staged for deletion.
func (tx *Tx) Descriptor(handle string) *mdib.Descriptor {
	return tx.descriptor(handle).Copy()
}

// CreateDescriptor stages a new descriptor. The handle must be unused and the
// parent, unless d is a root, must exist live or be staged for creation.
func (tx *Tx) CreateDescriptor(d *mdib.Descriptor) error {
	err := tx.check()
	if err != nil {
		return err
	}

	if d == nil || d.Handle == "" {
		return tx.abort(fmt.Errorf("%w: descriptor without handle", mdib.ErrStructural))
	}

	if !d.NodeType.Known() {
		return tx.abort(structuralf(d.Handle, "unknown node type %q", d.NodeType))
	}

	if op, ok := tx.descr[d.Handle]; ok && op.kind == opDelete {
		return tx.abort(structuralf(d.Handle, "handle is staged for deletion"))
	}

	if tx.descriptor(d.Handle) != nil {
		return tx.abort(structuralf(d.Handle, "duplicate handle"))
	}

	if !d.IsRoot() && tx.descriptor(d.ParentHandle) == nil {
		return tx.abort(&mdib.Error{Handle: d.Handle, Parent: d.ParentHandle, Err: fmt.Errorf("%w: parent not found", mdib.ErrStructural)})
	}

	tx.descr[d.Handle] = &descrOp{kind: opCreate, d: d.Copy(), seq: tx.nextSeq()}

	return nil
}

// UpdateDescriptor stages new content for an existing descriptor. The parent
// handle and node type cannot change.
func (tx *Tx) UpdateDescriptor(d *mdib.Descriptor) error {
	err := tx.check()
	if err != nil {
		return err
	}

	if d == nil {
		return tx.abort(fmt.Errorf("%w: descriptor is nil", mdib.ErrStructural))
	}

	current := tx.descriptor(d.Handle)
	if current == nil {
		return tx.abort(structuralf(d.Handle, "update of unknown descriptor"))
	}

	if current.ParentHandle != d.ParentHandle {
		return tx.abort(&mdib.Error{Handle: d.Handle, Parent: d.ParentHandle, Err: fmt.Errorf("%w: parent handle cannot change", mdib.ErrStructural)})
	}

	if current.NodeType != d.NodeType {
		return tx.abort(structuralf(d.Handle, "node type cannot change"))
	}

	if op, ok := tx.descr[d.Handle]; ok {
		// a staged create stays a create
		op.d = d.Copy()
		return nil
	}

	tx.descr[d.Handle] = &descrOp{kind: opUpdate, d: d.Copy(), seq: tx.nextSeq()}

	return nil
}

// DeleteDescriptor stages the removal of a descriptor and its whole subtree,
// each descendant as an explicit deletion. States of removed descriptors go
// with them.
func (tx *Tx) DeleteDescriptor(handle string) error {
	err := tx.check()
	if err != nil {
		return err
	}

	if tx.descriptor(handle) == nil {
		return tx.abort(structuralf(handle, "delete of unknown descriptor"))
	}

	for _, h := range tx.subtree(handle) {
		op, staged := tx.descr[h]

		switch {
		case staged && op.kind == opCreate:
			delete(tx.descr, h)
		default:
			tx.descr[h] = &descrOp{kind: opDelete, d: tx.w.Descriptor(h).Copy(), seq: tx.nextSeq()}
		}

		delete(tx.states, h)

		for key, c := range tx.contexts {
			if c.s.DescriptorHandle == h {
				delete(tx.contexts, key)
			}
		}
	}

	return nil
}

// subtree returns handle and its effective descendants in pre-order.
func (tx *Tx) subtree(handle string) []string {
	var out []string

	stack := []string{handle}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, h)

		children := tx.children(h)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	return out
}

func (tx *Tx) children(handle string) []string {
	var out []string

	for _, c := range tx.w.Children(handle) {
		if op, ok := tx.descr[c.Handle]; ok && op.kind == opDelete {
			continue
		}

		out = append(out, c.Handle)
	}

	for _, op := range tx.sortedDescrOps() {
		if op.kind == opCreate && op.d.ParentHandle == handle {
			out = append(out, op.d.Handle)
		}
	}

	return out
}

// State returns an editable copy of the effective state of a single-state
// descriptor. If the descriptor has no state yet, a fresh one is returned.
// Pass the result to [Tx.PutState] to stage it.
func (tx *Tx) State(descriptorHandle string) (*mdib.State, error) {
	err := tx.check()
	if err != nil {
		return nil, err
	}

	d := tx.descriptor(descriptorHandle)
	if d == nil {
		return nil, tx.abort(structuralf(descriptorHandle, "state of unknown descriptor"))
	}

	if d.IsContextDescriptor() {
		return nil, tx.abort(structuralf(descriptorHandle, "context descriptor needs context states"))
	}

	if op, ok := tx.states[descriptorHandle]; ok {
		return op.s.Copy(), nil
	}

	if live := tx.w.State(descriptorHandle); live != nil {
		return live.Copy(), nil
	}

	return &mdib.State{NodeType: d.NodeType, DescriptorHandle: d.Handle, DescriptorVersion: d.DescriptorVersion}, nil
}

// PutState stages s as the new state of its descriptor. An empty NodeType
// is filled in from the descriptor.
func (tx *Tx) PutState(s *mdib.State) error {
	err := tx.check()
	if err != nil {
		return err
	}

	if s == nil {
		return tx.abort(fmt.Errorf("%w: state is nil", mdib.ErrStructural))
	}

	d := tx.descriptor(s.DescriptorHandle)
	if d == nil {
		return tx.abort(structuralf(s.DescriptorHandle, "state of unknown descriptor"))
	}

	if d.IsContextDescriptor() {
		return tx.abort(structuralf(s.DescriptorHandle, "context descriptor needs context states"))
	}

	s = s.Copy()
	if s.NodeType == "" {
		s.NodeType = d.NodeType
	}

	if s.NodeType != d.NodeType {
		return tx.abort(structuralf(s.DescriptorHandle, "state node type %s does not match descriptor %s", s.NodeType, d.NodeType))
	}

	if op, ok := tx.states[s.DescriptorHandle]; ok {
		op.s = s
		return nil
	}

	tx.states[s.DescriptorHandle] = &stateOp{s: s, seq: tx.nextSeq()}

	return nil
}

// contextState returns the effective context state or nil.
func (tx *Tx) contextState(handle string) *mdib.State {
	if op, ok := tx.contexts[handle]; ok {
		if op.remove {
			return nil
		}

		return op.s
	}

	return tx.w.ContextState(handle)
}

// ContextState returns an editable copy of the effective context state.
func (tx *Tx) ContextState(handle string) (*mdib.State, error) {
	err := tx.check()
	if err != nil {
		return nil, err
	}

	s := tx.contextState(handle)
	if s == nil {
		return nil, tx.abort(structuralf(handle, "unknown context state"))
	}

	return s.Copy(), nil
}

// ContextStates returns copies of the effective context states of a context
// descriptor, live ones first.
func (tx *Tx) ContextStates(descriptorHandle string) []*mdib.State {
	var out []*mdib.State

	seen := map[string]bool{}

	for _, live := range tx.w.ContextStates(descriptorHandle) {
		seen[live.Handle] = true

		if s := tx.contextState(live.Handle); s != nil {
			out = append(out, s.Copy())
		}
	}

	for _, op := range sortedStateOps(tx.contexts) {
		if op.remove || seen[op.s.Handle] || op.s.DescriptorHandle != descriptorHandle {
			continue
		}

		out = append(out, op.s.Copy())
	}

	return out
}

// NewContextState stages a new associated context state for a context
// descriptor and returns an editable copy. It is bound to the version this
// transaction will commit as; every other associated state of the same
// descriptor is disassociated and unbound at that version.
func (tx *Tx) NewContextState(descriptorHandle string) (*mdib.State, error) {
	err := tx.check()
	if err != nil {
		return nil, err
	}

	d := tx.descriptor(descriptorHandle)
	if d == nil || !d.IsContextDescriptor() {
		return nil, tx.abort(structuralf(descriptorHandle, "not a context descriptor"))
	}

	next := tx.w.VersionGroup().MdibVersion + 1

	for _, s := range tx.ContextStates(descriptorHandle) {
		if s.ContextAssociation != mdib.AssociationAssociated {
			continue
		}

		s.ContextAssociation = mdib.AssociationDisassociated
		s.UnbindingMdibVersion = mdib.Uint(next)
		tx.stageContext(s)
	}

	s := &mdib.State{
		NodeType:           d.NodeType,
		DescriptorHandle:   d.Handle,
		Handle:             d.Handle + "_" + uuid.NewString(),
		DescriptorVersion:  d.DescriptorVersion,
		ContextAssociation: mdib.AssociationAssociated,
		BindingMdibVersion: mdib.Uint(next),
	}
	tx.stageContext(s.Copy())

	return s, nil
}

// PutContextState stages a context state, new or existing.
func (tx *Tx) PutContextState(s *mdib.State) error {
	err := tx.check()
	if err != nil {
		return err
	}

	if s == nil || s.Handle == "" {
		return tx.abort(fmt.Errorf("%w: context state without handle", mdib.ErrStructural))
	}

	d := tx.descriptor(s.DescriptorHandle)
	if d == nil || !d.IsContextDescriptor() {
		return tx.abort(structuralf(s.DescriptorHandle, "not a context descriptor"))
	}

	s = s.Copy()
	if s.NodeType == "" {
		s.NodeType = d.NodeType
	}

	if s.NodeType != d.NodeType {
		return tx.abort(structuralf(s.Handle, "state node type %s does not match descriptor %s", s.NodeType, d.NodeType))
	}

	if existing := tx.contextState(s.Handle); existing != nil && existing.DescriptorHandle != s.DescriptorHandle {
		return tx.abort(structuralf(s.Handle, "context state belongs to %s", existing.DescriptorHandle))
	}

	tx.stageContext(s)

	return nil
}

// RemoveContextState stages the removal of a context state.
func (tx *Tx) RemoveContextState(handle string) error {
	err := tx.check()
	if err != nil {
		return err
	}

	s := tx.contextState(handle)
	if s == nil {
		return tx.abort(structuralf(handle, "unknown context state"))
	}

	if tx.w.ContextState(handle) == nil {
		// only staged, never live
		delete(tx.contexts, handle)
		return nil
	}

	if op, ok := tx.contexts[handle]; ok {
		op.remove = true
		return nil
	}

	tx.contexts[handle] = &stateOp{s: s.Copy(), remove: true, seq: tx.nextSeq()}

	return nil
}

func (tx *Tx) stageContext(s *mdib.State) {
	if op, ok := tx.contexts[s.Handle]; ok {
		op.s = s
		op.remove = false

		return
	}

	tx.contexts[s.Handle] = &stateOp{s: s, seq: tx.nextSeq()}
}

// Rollback discards everything staged and releases the locks. Safe after
// Commit and on repeated calls.
func (tx *Tx) Rollback() {
	if tx == nil || tx.closed {
		return
	}

	tx.closed = true
	tx.descr = nil
	tx.states = nil
	tx.contexts = nil

	tx.p.release(tx.w)
}

func (tx *Tx) empty() bool {
	return len(tx.descr) == 0 && len(tx.states) == 0 && len(tx.contexts) == 0
}
