package provider

import (
	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
)

// TransactionResult is the categorized outcome of one committed [Tx]. Each
// state category maps to one outbound episodic report.
//
// All slices hold copies; the result may be kept after the commit returns.
type TransactionResult struct {
	VersionGroup mdib.VersionGroup

	DescrCreated []*mdib.Descriptor
	DescrUpdated []*mdib.Descriptor
	DescrDeleted []*mdib.Descriptor

	// DescrStates are the states of created or updated descriptors. They
	// travel with the description modification report, not an episodic one.
	DescrStates []*mdib.State

	MetricUpdates      []*mdib.State
	AlertUpdates       []*mdib.State
	ComponentUpdates   []*mdib.State
	ContextUpdates     []*mdib.State
	OperationalUpdates []*mdib.State
	RealTimeUpdates    []*mdib.State

	// ContextRemoved are context states removed explicitly in the transaction.
	// Replicas learn about them through the update of their descriptor.
	ContextRemoved []*mdib.State
}

// Updates returns the episodic updates of one category.
func (r *TransactionResult) Updates(c mdib.Category) []*mdib.State {
	switch c {
	case mdib.CategoryMetric:
		return r.MetricUpdates
	case mdib.CategoryAlert:
		return r.AlertUpdates
	case mdib.CategoryComponent:
		return r.ComponentUpdates
	case mdib.CategoryContext:
		return r.ContextUpdates
	case mdib.CategoryOperational:
		return r.OperationalUpdates
	case mdib.CategoryRealTime:
		return r.RealTimeUpdates
	default:
		return nil
	}
}

// UpdatedStates returns every episodic state update in category order.
// States in DescrStates are not included.
func (r *TransactionResult) UpdatedStates() []*mdib.State {
	var out []*mdib.State
	for _, c := range mdib.Categories {
		out = append(out, r.Updates(c)...)
	}

	return out
}

// HasDescriptionChanges reports whether any descriptor was created, updated
// or deleted.
func (r *TransactionResult) HasDescriptionChanges() bool {
	return len(r.DescrCreated)+len(r.DescrUpdated)+len(r.DescrDeleted) > 0
}

// Empty reports whether the transaction changed nothing.
func (r *TransactionResult) Empty() bool {
	return !r.HasDescriptionChanges() &&
		len(r.DescrStates) == 0 &&
		len(r.ContextRemoved) == 0 &&
		len(r.UpdatedStates()) == 0
}

func (r *TransactionResult) addUpdate(s *mdib.State) {
	switch s.NodeType.Category() {
	case mdib.CategoryMetric:
		r.MetricUpdates = append(r.MetricUpdates, s)
	case mdib.CategoryAlert:
		r.AlertUpdates = append(r.AlertUpdates, s)
	case mdib.CategoryContext:
		r.ContextUpdates = append(r.ContextUpdates, s)
	case mdib.CategoryOperational:
		r.OperationalUpdates = append(r.OperationalUpdates, s)
	case mdib.CategoryRealTime:
		r.RealTimeUpdates = append(r.RealTimeUpdates, s)
	default:
		r.ComponentUpdates = append(r.ComponentUpdates, s)
	}
}

// RealTimeResult is the outcome of one committed [RealTimeTx]: the version
// group and the updated waveform states, nothing else.
type RealTimeResult struct {
	VersionGroup mdib.VersionGroup
	States       []*mdib.State
}
