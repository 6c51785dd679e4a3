package consumer

import (
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/reports"
)

// applyLocked runs one report. Caller holds c.mu.
func (c *Consumer) applyLocked(report reports.Report, replay bool) Outcome {
	out := Outcome{Replayed: replay}
	w := c.replica.Load().Lock()

	incoming := report.VersionGroup()
	log := c.log.WithFields(logrus.Fields{
		"kind":         report.Kind().String(),
		"mdib_version": incoming.MdibVersion,
		"sequence_id":  incoming.SequenceID,
	})

	if !c.acceptVersion(w, incoming, replay, log, &out) {
		w.Unlock()
		return out
	}

	change := Change{Version: incoming.Copy(), Kind: report.Kind()}

	switch r := report.(type) {
	case *reports.DescriptionModificationReport:
		c.applyDescription(w, r, replay, log, &out, &change)
	case *reports.StateReport:
		changed := c.applyStates(w, r.States, replay, false, log, &out)
		change.States = stateKeys(changed)
		c.recordStates(changed)
	default:
		log.Warn("unsupported report type")
	}

	w.Unlock()

	c.changes.Publish(change)
	c.monitor.Notify()

	return out
}

// acceptVersion runs the version group check and adopts the incoming version.
// It returns false if the report must be dropped.
func (c *Consumer) acceptVersion(w *mdib.Writer, incoming mdib.VersionGroup, replay bool, log *logrus.Entry, out *Outcome) bool {
	local := w.VersionGroup()

	if incoming.SequenceID != local.SequenceID {
		out.EpochChanged = true

		c.obsMu.Lock()
		c.stats.epochChanges++
		c.obsMu.Unlock()

		log.WithField("previous_sequence_id", local.SequenceID).Warn("sequence id changed, replica needs a reload")

		w.SetVersionGroup(incoming)

		return true
	}

	switch {
	case incoming.MdibVersion < local.MdibVersion:
		out.Stale = true

		c.obsMu.Lock()
		c.stats.stale++
		c.obsMu.Unlock()

		entry := log.WithField("local_mdib_version", local.MdibVersion)
		if replay {
			entry.Debug("dropping stale buffered report")
		} else {
			entry.Warn("dropping stale report")
		}

		return false
	case incoming.MdibVersion-local.MdibVersion > 1 && !c.cfg.ExpectGaps:
		out.Gap = true

		c.obsMu.Lock()
		c.stats.gaps++
		c.obsMu.Unlock()

		log.WithFields(logrus.Fields{
			"local_mdib_version": local.MdibVersion,
			"missed":             incoming.MdibVersion - local.MdibVersion - 1,
		}).Warn("mdib version gap")
	}

	local.MdibVersion = incoming.MdibVersion
	if incoming.InstanceID != nil {
		local.InstanceID = mdib.Instance(*incoming.InstanceID)
	}

	w.SetVersionGroup(local)

	return true
}

func delta(incoming, existing uint64) int64 {
	return int64(incoming) - int64(existing)
}

// applyStates applies each state under the per-state policy and returns the
// states that changed the replica. created marks states accompanying a
// descriptor creation, which are expected to be new.
func (c *Consumer) applyStates(w *mdib.Writer, states []*mdib.State, replay, created bool, log *logrus.Entry, out *Outcome) []*mdib.State {
	var changed []*mdib.State

	for _, s := range states {
		if s == nil {
			continue
		}

		if applied := c.applyState(w, s, replay, created, log, out); applied != nil {
			changed = append(changed, applied)
		}
	}

	return changed
}

// applyState returns a copy of the stored state if s was applied, nil
// otherwise.
func (c *Consumer) applyState(w *mdib.Writer, s *mdib.State, replay, created bool, log *logrus.Entry, out *Outcome) *mdib.State {
	entry := log.WithFields(logrus.Fields{
		"descriptor_handle": s.DescriptorHandle,
		"state_handle":      s.Handle,
		"state_version":     s.StateVersion,
	})

	var existing *mdib.State
	if s.IsContextState() {
		existing = w.ContextState(s.Handle)
	} else {
		existing = w.State(s.DescriptorHandle)
	}

	duplicate := false

	if existing == nil {
		switch {
		case created:
		case s.IsContextState():
			// new context associations arrive with episodic reports
			entry.Debug("new context state")
		default:
			out.Recovered++

			c.obsMu.Lock()
			c.stats.recovered++
			c.obsMu.Unlock()

			entry.Info("inserting state without prior create")
		}
	} else {
		d := delta(s.StateVersion, existing.StateVersion)
		entry = entry.WithField("local_state_version", existing.StateVersion)

		switch {
		case d == 1:
		case d > 1:
			entry.Warnf("missed %d states", d-1)
		case d == 0:
			if !existing.Equal(s) {
				c.reject(entry.WithError(mdib.ErrVersionConflict), out, false, "same state version with different content")
				return nil
			}

			duplicate = true
		default:
			c.reject(entry.WithError(mdib.ErrVersionConflict), out, replay, "state version went backwards")
			return nil
		}
	}

	var err error
	if s.IsContextState() {
		_, err = w.PutContextState(s)
	} else {
		_, err = w.PutState(s)
	}

	if err != nil {
		c.reject(entry.WithError(err), out, false, "dropping structurally invalid state")
		return nil
	}

	out.Applied++

	if !duplicate && s.NodeType.IsRealTime() && s.SampleArray != nil {
		c.appendSamples(w, s)
	}

	return s.Copy()
}

func (c *Consumer) reject(entry *logrus.Entry, out *Outcome, lowSeverity bool, msg string) {
	out.Rejected++

	c.obsMu.Lock()
	c.stats.rejected++
	c.obsMu.Unlock()

	if lowSeverity {
		entry.Debug(msg)
		return
	}

	entry.Warn(msg)
}

func (c *Consumer) applyDescription(w *mdib.Writer, r *reports.DescriptionModificationReport, replay bool, log *logrus.Entry, out *Outcome, change *Change) {
	var (
		changed []*mdib.State
		descr   DescriptorChanges
	)

	orphansBefore := w.OrphanedDescriptors()

	for _, part := range r.Parts {
		switch part.Type {
		case reports.ModificationCreate:
			for _, d := range parentFirst(w, part.Descriptors) {
				if c.createDescriptor(w, d, replay, log, out) {
					descr.Created = append(descr.Created, d.Handle)
				}
			}

			changed = append(changed, c.applyStates(w, part.States, replay, true, log, out)...)
		case reports.ModificationUpdate:
			for _, d := range part.Descriptors {
				if !c.updateDescriptor(w, d, replay, log, out) {
					continue
				}

				descr.Updated = append(descr.Updated, d.Handle)

				if d.IsContextDescriptor() {
					c.reconcileContexts(w, d.Handle, part.States, log)
				}
			}

			changed = append(changed, c.applyStates(w, part.States, replay, false, log, out)...)
		case reports.ModificationDelete:
			for _, d := range part.Descriptors {
				if w.Descriptor(d.Handle) == nil {
					log.WithField("handle", d.Handle).Debug("delete of unknown descriptor")
					continue
				}

				removed, err := w.RemoveDescriptor(d.Handle)
				if err != nil {
					c.reject(log.WithError(err).WithField("handle", d.Handle), out, false, "dropping descriptor delete")
					continue
				}

				c.forgetDescriptor(d.Handle, removed)

				out.Applied++
				descr.Deleted = append(descr.Deleted, d.Handle)
			}
		default:
			log.WithField("modification", part.Type).Warn("unknown modification type")
		}
	}

	c.flagOrphans(w, orphansBefore, log)

	change.Created = descr.Created
	change.Updated = descr.Updated
	change.Deleted = descr.Deleted
	change.States = stateKeys(changed)

	c.obsMu.Lock()
	c.lastDescr = descr
	c.obsMu.Unlock()

	// states travelling with descriptors also count as changes of their category
	c.recordStates(changed)
}

func (c *Consumer) createDescriptor(w *mdib.Writer, d *mdib.Descriptor, replay bool, log *logrus.Entry, out *Outcome) bool {
	if w.Descriptor(d.Handle) != nil {
		log.WithField("handle", d.Handle).Warn("create of existing descriptor, treating as update")
		return c.updateDescriptor(w, d, replay, log, out)
	}

	err := w.AddDescriptor(d)
	if err != nil {
		c.reject(log.WithError(err).WithField("handle", d.Handle), out, false, "dropping descriptor create")
		return false
	}

	out.Applied++

	return true
}

func (c *Consumer) updateDescriptor(w *mdib.Writer, d *mdib.Descriptor, replay bool, log *logrus.Entry, out *Outcome) bool {
	entry := log.WithFields(logrus.Fields{
		"handle":             d.Handle,
		"descriptor_version": d.DescriptorVersion,
	})

	existing := w.Descriptor(d.Handle)
	if existing == nil {
		entry.Info("update of unknown descriptor, inserting")

		err := w.AddDescriptor(d)
		if err != nil {
			c.reject(entry.WithError(err), out, false, "dropping descriptor update")
			return false
		}

		out.Applied++
		out.Recovered++

		c.obsMu.Lock()
		c.stats.recovered++
		c.obsMu.Unlock()

		return true
	}

	dv := delta(d.DescriptorVersion, existing.DescriptorVersion)
	entry = entry.WithField("local_descriptor_version", existing.DescriptorVersion)

	switch {
	case dv == 1:
	case dv > 1:
		entry.Warnf("missed %d descriptor versions", dv-1)
	case dv == 0:
		if !existing.Equal(d) {
			c.reject(entry.WithError(mdib.ErrVersionConflict), out, false, "same descriptor version with different content")
			return false
		}
	default:
		c.reject(entry.WithError(mdib.ErrVersionConflict), out, replay, "descriptor version went backwards")
		return false
	}

	err := w.UpdateDescriptor(d)
	if err != nil {
		c.reject(entry.WithError(err), out, false, "dropping descriptor update")
		return false
	}

	out.Applied++

	return true
}

// reconcileContexts removes local context states of descriptorHandle that
// the update's state list no longer contains.
func (c *Consumer) reconcileContexts(w *mdib.Writer, descriptorHandle string, states []*mdib.State, log *logrus.Entry) {
	keep := map[string]bool{}

	for _, s := range states {
		if s != nil && s.DescriptorHandle == descriptorHandle {
			keep[s.Handle] = true
		}
	}

	for _, local := range w.ContextStates(descriptorHandle) {
		if keep[local.Handle] {
			continue
		}

		w.RemoveContextState(local.Handle)
		log.WithFields(logrus.Fields{
			"descriptor_handle": descriptorHandle,
			"state_handle":      local.Handle,
		}).Debug("context state removed by descriptor update")
	}
}

// flagOrphans logs descriptors whose parent went away in this report. They
// are left in place: child deletion is up to the sender.
func (c *Consumer) flagOrphans(w *mdib.Writer, before []string, log *logrus.Entry) {
	orphans := w.OrphanedDescriptors()

	for _, h := range orphans {
		if slices.Contains(before, h) {
			continue
		}

		log.WithField("handle", h).Warn("descriptor orphaned by delete")
	}

	c.obsMu.Lock()
	c.stats.orphans = orphans
	c.obsMu.Unlock()
}

// parentFirst orders the descriptors of a create part so parents precede
// children. Descriptors whose parent is neither present nor in the part keep
// their relative order at the end; adding them will fail and be logged.
func parentFirst(w *mdib.Writer, ds []*mdib.Descriptor) []*mdib.Descriptor {
	known := map[string]bool{}
	remaining := slices.Clone(ds)

	var out []*mdib.Descriptor

	for progress := true; progress && len(remaining) > 0; {
		progress = false

		var next []*mdib.Descriptor

		for _, d := range remaining {
			if d.IsRoot() || known[d.ParentHandle] || w.Descriptor(d.ParentHandle) != nil {
				out = append(out, d)
				known[d.Handle] = true
				progress = true

				continue
			}

			next = append(next, d)
		}

		remaining = next
	}

	return append(out, remaining...)
}

func stateKeys(states []*mdib.State) []string {
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, s.Key())
	}

	return out
}
