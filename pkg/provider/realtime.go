package provider

import (
	"context"
	"fmt"
	"slices"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
)

// RealTimeTx is the light transaction for periodic waveform batches. It only
// touches real-time sample array states and produces a [RealTimeResult]
// instead of the full categorized diff.
type RealTimeTx struct {
	p      *Provider
	w      *mdib.Writer
	ctx    context.Context
	staged map[string]mdib.SampleArrayValue
	order  []string
	closed bool
}

// BeginRealTime opens a waveform transaction. It shares the single
// transaction slot with [Provider.Begin].
func (p *Provider) BeginRealTime(ctx context.Context) (*RealTimeTx, error) {
	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	return &RealTimeTx{
		p:      p,
		w:      w,
		ctx:    context.WithValue(ctx, txKey{}, p),
		staged: make(map[string]mdib.SampleArrayValue),
	}, nil
}

// Context returns the marked ctx, see [Tx.Context].
func (rt *RealTimeTx) Context() context.Context {
	return rt.ctx
}

// PutSamples stages a sample array for a real-time metric. A zero
// SamplePeriod is taken from the descriptor.
func (rt *RealTimeTx) PutSamples(descriptorHandle string, sa mdib.SampleArrayValue) error {
	if rt.closed {
		return ErrTxClosed
	}

	d := rt.w.Descriptor(descriptorHandle)
	if d == nil {
		rt.Rollback()
		return structuralf(descriptorHandle, "samples for unknown descriptor")
	}

	if !d.NodeType.IsRealTime() {
		rt.Rollback()
		return structuralf(descriptorHandle, "%s carries no sample arrays", d.NodeType)
	}

	if sa.SamplePeriod == 0 {
		sa.SamplePeriod = d.SamplePeriod
	}

	sa.Samples = slices.Clone(sa.Samples)
	sa.Annotations = slices.Clone(sa.Annotations)

	if _, ok := rt.staged[descriptorHandle]; !ok {
		rt.order = append(rt.order, descriptorHandle)
	}

	rt.staged[descriptorHandle] = sa

	return nil
}

// Commit applies the staged samples, bumps the MDIB version once and hands
// the result to the sinks. Empty commits change nothing.
func (rt *RealTimeTx) Commit() (*RealTimeResult, error) {
	if rt.closed {
		return nil, ErrTxClosed
	}

	rt.closed = true

	if len(rt.order) == 0 {
		res := &RealTimeResult{VersionGroup: rt.w.VersionGroup()}
		rt.p.release(rt.w)

		return res, nil
	}

	next := rt.w.VersionGroup()
	next.MdibVersion++

	res := &RealTimeResult{VersionGroup: next.Copy()}

	for _, h := range rt.order {
		d := rt.w.Descriptor(h)
		sa := rt.staged[h]

		s := rt.w.State(h)
		if s == nil {
			s = &mdib.State{NodeType: d.NodeType, DescriptorHandle: h}
		} else {
			s = s.Copy()
			s.StateVersion++
		}

		s.DescriptorVersion = d.DescriptorVersion
		s.SampleArray = &sa

		_, err := rt.w.PutState(s)
		if err != nil {
			// unreachable while the lock is held since staging; log loudly
			rt.p.log.WithError(err).WithField("handle", h).Error("real-time commit failed")
			rt.p.release(rt.w)
			return nil, fmt.Errorf("committing samples: %w", err)
		}

		res.States = append(res.States, rt.w.State(h).Copy())
	}

	rt.w.SetVersionGroup(next)
	rt.p.committed.Store(true)
	rt.w.Unlock()

	defer func() { <-rt.p.sem }()

	for _, s := range rt.p.sinkList() {
		s.OnRealTimeSamples(res)
	}

	return res, nil
}

// Rollback discards the staged samples. Safe after Commit.
func (rt *RealTimeTx) Rollback() {
	if rt == nil || rt.closed {
		return
	}

	rt.closed = true
	rt.staged = nil
	rt.order = nil

	rt.p.release(rt.w)
}
