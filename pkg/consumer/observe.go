package consumer

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/Draegerwerk/sdc11073-sub000/internal/notify"
	"github.com/Draegerwerk/sdc11073-sub000/internal/ringbuf"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/reports"
)

// Change is published to subscribers after every applied report.
type Change struct {
	Version mdib.VersionGroup
	Kind    reports.Kind

	// States are the keys of the states the report changed.
	States []string

	// Descriptor handles, for description modification reports.
	Created []string
	Updated []string
	Deleted []string
}

// DescriptorChanges lists the descriptor handles touched by the most recent
// description modification report.
type DescriptorChanges struct {
	Created []string
	Updated []string
	Deleted []string
}

// Status is a point-in-time summary of the replica's bookkeeping.
type Status struct {
	Version     mdib.VersionGroup
	Initialized bool
	Pending     int

	EpochChanges    uint64
	Gaps            uint64
	StaleReports    uint64
	RejectedItems   uint64
	RecoveredStates uint64

	// EvictedSamples counts waveform samples pushed out of full buffers,
	// summed over the buffers currently held.
	EvictedSamples uint64

	// Orphans are descriptors whose parent was deleted without them.
	Orphans []string
}

// Subscribe returns a subscription receiving one [Change] per applied
// report. Slow subscribers lose changes; see [notify.Subscription.Dropped].
func (c *Consumer) Subscribe(buffer int) *notify.Subscription[Change] {
	return c.changes.Subscribe(buffer)
}

// Status returns the current bookkeeping.
func (c *Consumer) Status() Status {
	c.mu.Lock()
	initialized := c.initialized
	pending := len(c.pending)
	c.mu.Unlock()

	st := Status{Initialized: initialized, Pending: pending}

	if r := c.replica.Load(); r != nil {
		st.Version = r.VersionGroup()
	}

	c.obsMu.RLock()
	defer c.obsMu.RUnlock()

	st.EpochChanges = c.stats.epochChanges
	st.Gaps = c.stats.gaps
	st.StaleReports = c.stats.stale
	st.RejectedItems = c.stats.rejected
	st.RecoveredStates = c.stats.recovered
	st.Orphans = slices.Clone(c.stats.orphans)

	for _, buf := range c.waveforms {
		st.EvictedSamples += buf.Evicted()
	}

	return st
}

// LastChanged returns the states of category changed by the most recent
// report that touched that category, keyed by state key.
func (c *Consumer) LastChanged(category mdib.Category) map[string]*mdib.State {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()

	out := make(map[string]*mdib.State, len(c.lastChanged[category]))
	for k, s := range c.lastChanged[category] {
		out[k] = s.Copy()
	}

	return out
}

// LastDescriptorChanges returns the handles touched by the most recent
// description modification report.
func (c *Consumer) LastDescriptorChanges() DescriptorChanges {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()

	return DescriptorChanges{
		Created: slices.Clone(c.lastDescr.Created),
		Updated: slices.Clone(c.lastDescr.Updated),
		Deleted: slices.Clone(c.lastDescr.Deleted),
	}
}

// Waveform returns the buffered samples of a real-time metric, oldest first.
func (c *Consumer) Waveform(handle string) []Sample {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()

	buf, ok := c.waveforms[handle]
	if !ok {
		return nil
	}

	return copySamples(buf.Items())
}

// LastSamples returns the newest n buffered samples of a real-time metric,
// oldest first.
func (c *Consumer) LastSamples(handle string, n int) []Sample {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()

	buf, ok := c.waveforms[handle]
	if !ok {
		return nil
	}

	return copySamples(buf.Last(n))
}

// WaveformHandles returns the handles that have buffered samples, sorted.
func (c *Consumer) WaveformHandles() []string {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()

	return slices.Sorted(maps.Keys(c.waveforms))
}

// WaitForState blocks until the state keyed by handle (descriptor handle, or
// own handle for context states) satisfies pred, and returns a copy of it.
func (c *Consumer) WaitForState(ctx context.Context, handle string, pred func(*mdib.State) bool) (*mdib.State, error) {
	for {
		// fetch the channel before checking so no change slips in between
		wake := c.monitor.NotifyChannel()

		if s := c.lookupState(handle); s != nil && (pred == nil || pred(s)) {
			return s, nil
		}

		if c.closed.Load() {
			return nil, mdib.ErrClosed
		}

		select {
		case <-wake:
		case <-c.done:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for state %s: %w", handle, ctx.Err())
		}
	}
}

func (c *Consumer) lookupState(handle string) *mdib.State {
	r := c.replica.Load()
	if r == nil {
		return nil
	}

	if s, err := r.State(handle); err == nil {
		return s
	}

	if s, err := r.ContextState(handle); err == nil {
		return s
	}

	return nil
}

// recordStates replaces the last-changed map of every category in states.
func (c *Consumer) recordStates(states []*mdib.State) {
	if len(states) == 0 {
		return
	}

	byCategory := map[mdib.Category]map[string]*mdib.State{}

	for _, s := range states {
		cat := s.NodeType.Category()
		if byCategory[cat] == nil {
			byCategory[cat] = map[string]*mdib.State{}
		}

		byCategory[cat][s.Key()] = s
	}

	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	maps.Copy(c.lastChanged, byCategory)
}

// appendSamples expands a waveform state into the handle's ring buffer.
func (c *Consumer) appendSamples(w *mdib.Writer, s *mdib.State) {
	fallback := 0.0
	if d := w.Descriptor(s.DescriptorHandle); d != nil {
		fallback = d.SamplePeriod
	}

	samples := ExpandSamples(s.SampleArray, fallback)
	if len(samples) == 0 {
		return
	}

	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	buf, ok := c.waveforms[s.DescriptorHandle]
	if !ok {
		var err error

		buf, err = ringbuf.New[Sample](c.cfg.WaveformCapacity)
		if err != nil {
			c.log.WithError(err).Error("creating waveform buffer")
			return
		}

		c.waveforms[s.DescriptorHandle] = buf
	}

	buf.Push(samples...)
}

// forgetDescriptor drops the waveform history of a deleted descriptor and
// its removed states from the last-changed maps.
func (c *Consumer) forgetDescriptor(handle string, removed []*mdib.State) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	delete(c.waveforms, handle)

	for _, s := range removed {
		delete(c.lastChanged[s.NodeType.Category()], s.Key())
	}
}

func (c *Consumer) resetObservables() {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	c.waveforms = make(map[string]*ringbuf.Buffer[Sample])
	c.lastChanged = make(map[mdib.Category]map[string]*mdib.State)
	c.lastDescr = DescriptorChanges{}
	c.stats = counters{}
}
