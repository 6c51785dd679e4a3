package provider

import (
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
)

// Commit merges the staged changes into the live MDIB and closes the
// transaction.
//
// An empty transaction is a no-op: no version bump, no sink call, and an
// empty result. Otherwise the MdibVersion grows by exactly one, every
// updated descriptor and state gets its live version plus one, and the
// categorized result is handed to the sinks before the next transaction can
// begin.
//
// If merging fails the MDIB is restored to its content before Commit.
func (tx *Tx) Commit() (*TransactionResult, error) {
	err := tx.check()
	if err != nil {
		return nil, err
	}

	tx.closed = true

	if tx.empty() {
		res := &TransactionResult{VersionGroup: tx.w.VersionGroup()}
		tx.p.release(tx.w)

		return res, nil
	}

	before := tx.w.Snapshot()

	res, err := tx.apply()
	if err != nil {
		restoreErr := tx.w.Restore(before)
		if restoreErr != nil {
			tx.p.log.WithError(restoreErr).Error("restoring mdib after failed commit")
		}

		tx.p.release(tx.w)

		return nil, fmt.Errorf("committing: %w", err)
	}

	tx.p.committed.Store(true)
	tx.w.Unlock()

	defer func() { <-tx.p.sem }()

	tx.p.logCommit(res.VersionGroup, logrus.Fields{
		"created": len(res.DescrCreated),
		"updated": len(res.DescrUpdated),
		"deleted": len(res.DescrDeleted),
		"states":  len(res.UpdatedStates()) + len(res.DescrStates),
	})

	for _, s := range tx.p.sinkList() {
		s.OnTransaction(res)
	}

	return res, nil
}

func (tx *Tx) apply() (*TransactionResult, error) {
	w := tx.w

	next := w.VersionGroup()
	next.MdibVersion++

	res := &TransactionResult{VersionGroup: next.Copy()}
	ops := tx.sortedDescrOps()
	described := map[string]bool{}

	// deletes deepest first: DeleteDescriptor staged them in pre-order
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if op.kind != opDelete {
			continue
		}

		res.DescrDeleted = append(res.DescrDeleted, w.Descriptor(op.d.Handle).Copy())

		_, err := w.RemoveDescriptor(op.d.Handle)
		if err != nil {
			return nil, err
		}
	}

	slices.Reverse(res.DescrDeleted)

	for _, op := range ops {
		var err error

		switch op.kind {
		case opCreate:
			err = w.AddDescriptor(op.d)
		case opUpdate:
			d := op.d.Copy()
			d.DescriptorVersion = w.Descriptor(d.Handle).DescriptorVersion + 1
			err = w.UpdateDescriptor(d)
		default:
			continue
		}

		if err != nil {
			return nil, err
		}

		live := w.Descriptor(op.d.Handle)

		live.SourceMds, err = w.SourceMds(live.Handle)
		if err != nil {
			return nil, err
		}

		described[live.Handle] = true

		if op.kind == opCreate {
			res.DescrCreated = append(res.DescrCreated, live.Copy())
		} else {
			res.DescrUpdated = append(res.DescrUpdated, live.Copy())
		}
	}

	// Removing context states is reported as an update of their descriptor
	// carrying the remaining states, so replicas reconcile by set difference.
	for _, op := range sortedStateOps(tx.contexts) {
		h := op.s.DescriptorHandle
		if !op.remove || described[h] {
			continue
		}

		d := w.Descriptor(h).Copy()
		d.DescriptorVersion++

		err := w.UpdateDescriptor(d)
		if err != nil {
			return nil, err
		}

		described[h] = true
		res.DescrUpdated = append(res.DescrUpdated, w.Descriptor(h).Copy())
	}

	for _, op := range sortedStateOps(tx.states) {
		s, err := tx.putState(op.s)
		if err != nil {
			return nil, err
		}

		res.add(s, described[s.DescriptorHandle])
	}

	// a created single-state descriptor always arrives with its state
	for _, op := range ops {
		if op.kind != opCreate || op.d.IsContextDescriptor() {
			continue
		}

		if _, staged := tx.states[op.d.Handle]; staged {
			continue
		}

		s, err := tx.putState(&mdib.State{DescriptorHandle: op.d.Handle, NodeType: op.d.NodeType})
		if err != nil {
			return nil, err
		}

		res.add(s, true)
	}

	for _, op := range sortedStateOps(tx.contexts) {
		if op.remove {
			removed := w.ContextState(op.s.Handle).Copy()
			w.RemoveContextState(op.s.Handle)
			res.ContextRemoved = append(res.ContextRemoved, removed)

			continue
		}

		s, err := tx.putContextState(op.s)
		if err != nil {
			return nil, err
		}

		res.add(s, described[s.DescriptorHandle])
	}

	// updated descriptors without a staged state: their states still carry
	// the old descriptor version
	for _, d := range res.DescrUpdated {
		if d.IsContextDescriptor() {
			for _, live := range w.ContextStates(d.Handle) {
				if _, staged := tx.contexts[live.Handle]; staged {
					continue
				}

				live.StateVersion++
				live.DescriptorVersion = d.DescriptorVersion
				res.DescrStates = append(res.DescrStates, live.Copy())
			}

			continue
		}

		if _, staged := tx.states[d.Handle]; staged {
			continue
		}

		live := w.State(d.Handle)
		if live == nil {
			continue
		}

		live.StateVersion++
		live.DescriptorVersion = d.DescriptorVersion
		res.DescrStates = append(res.DescrStates, live.Copy())
	}

	w.SetVersionGroup(next)

	return res, nil
}

func (tx *Tx) putState(staged *mdib.State) (*mdib.State, error) {
	s := staged.Copy()
	s.DescriptorVersion = tx.w.Descriptor(s.DescriptorHandle).DescriptorVersion

	if live := tx.w.State(s.DescriptorHandle); live != nil {
		s.StateVersion = live.StateVersion + 1
	}

	_, err := tx.w.PutState(s)
	if err != nil {
		return nil, err
	}

	return tx.w.State(s.DescriptorHandle).Copy(), nil
}

func (tx *Tx) putContextState(staged *mdib.State) (*mdib.State, error) {
	s := staged.Copy()
	s.DescriptorVersion = tx.w.Descriptor(s.DescriptorHandle).DescriptorVersion

	if live := tx.w.ContextState(s.Handle); live != nil {
		s.StateVersion = live.StateVersion + 1
	}

	_, err := tx.w.PutContextState(s)
	if err != nil {
		return nil, err
	}

	return tx.w.ContextState(s.Handle).Copy(), nil
}

func (r *TransactionResult) add(s *mdib.State, described bool) {
	if described {
		r.DescrStates = append(r.DescrStates, s)
		return
	}

	r.addUpdate(s)
}

func (tx *Tx) sortedDescrOps() []*descrOp {
	ops := make([]*descrOp, 0, len(tx.descr))
	for _, op := range tx.descr {
		ops = append(ops, op)
	}

	slices.SortFunc(ops, func(a, b *descrOp) int { return a.seq - b.seq })

	return ops
}

func sortedStateOps(m map[string]*stateOp) []*stateOp {
	ops := make([]*stateOp, 0, len(m))
	for _, op := range m {
		ops = append(ops, op)
	}

	slices.SortFunc(ops, func(a, b *stateOp) int { return a.seq - b.seq })

	return ops
}
