// Package reports defines the decoded report shapes a consumer applies to
// its replica. Wire encoding is somebody else's job; this package only holds
// the already-decoded objects plus a loopback conversion from provider
// commit results.
package reports

import (
	"fmt"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/provider"
)

// Kind identifies a report category.
type Kind int

const (
	KindEpisodicMetric Kind = iota + 1
	KindEpisodicAlert
	KindEpisodicComponent
	KindEpisodicOperationalState
	KindEpisodicContext
	KindWaveform
	KindDescriptionModification
)

func (k Kind) String() string {
	switch k {
	case KindEpisodicMetric:
		return "EpisodicMetricReport"
	case KindEpisodicAlert:
		return "EpisodicAlertReport"
	case KindEpisodicComponent:
		return "EpisodicComponentReport"
	case KindEpisodicOperationalState:
		return "EpisodicOperationalStateReport"
	case KindEpisodicContext:
		return "EpisodicContextReport"
	case KindWaveform:
		return "WaveformStream"
	case KindDescriptionModification:
		return "DescriptionModificationReport"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// KindOf returns the episodic report kind carrying states of category c.
func KindOf(c mdib.Category) Kind {
	switch c {
	case mdib.CategoryMetric:
		return KindEpisodicMetric
	case mdib.CategoryAlert:
		return KindEpisodicAlert
	case mdib.CategoryContext:
		return KindEpisodicContext
	case mdib.CategoryOperational:
		return KindEpisodicOperationalState
	case mdib.CategoryRealTime:
		return KindWaveform
	default:
		return KindEpisodicComponent
	}
}

// Report is one decoded, version-stamped report.
type Report interface {
	Kind() Kind
	VersionGroup() mdib.VersionGroup
}

// StateReport is an episodic report or a waveform stream: a flat state list.
type StateReport struct {
	ReportKind Kind              `json:"kind"`
	Version    mdib.VersionGroup `json:"version"`
	States     []*mdib.State     `json:"states"`
}

func (r *StateReport) Kind() Kind { return r.ReportKind }

func (r *StateReport) VersionGroup() mdib.VersionGroup { return r.Version }

// ModificationType tags one part of a description modification report.
type ModificationType string

const (
	ModificationCreate ModificationType = "Crt"
	ModificationUpdate ModificationType = "Upt"
	ModificationDelete ModificationType = "Del"
)

// Part is one part of a [DescriptionModificationReport]. States are the
// states of the part's descriptors, if the sender included them.
type Part struct {
	Type        ModificationType   `json:"type"`
	Descriptors []*mdib.Descriptor `json:"descriptors"`
	States      []*mdib.State      `json:"states,omitempty"`
}

// DescriptionModificationReport carries descriptor creations, updates and
// deletions.
type DescriptionModificationReport struct {
	Version mdib.VersionGroup `json:"version"`
	Parts   []Part            `json:"parts"`
}

func (r *DescriptionModificationReport) Kind() Kind { return KindDescriptionModification }

func (r *DescriptionModificationReport) VersionGroup() mdib.VersionGroup { return r.Version }

// FromTransaction converts a commit result into the reports a device would
// send for it: the description modification report first, then one
// episodic report per non-empty state category.
func FromTransaction(res *provider.TransactionResult) []Report {
	if res == nil || res.Empty() {
		return nil
	}

	var out []Report

	if res.HasDescriptionChanges() {
		out = append(out, descriptionModification(res))
	}

	for _, c := range mdib.Categories {
		states := res.Updates(c)
		if len(states) == 0 {
			continue
		}

		out = append(out, &StateReport{ReportKind: KindOf(c), Version: res.VersionGroup.Copy(), States: states})
	}

	return out
}

// FromRealTime converts a waveform commit into a waveform stream report.
func FromRealTime(res *provider.RealTimeResult) Report {
	return &StateReport{ReportKind: KindWaveform, Version: res.VersionGroup.Copy(), States: res.States}
}

func descriptionModification(res *provider.TransactionResult) *DescriptionModificationReport {
	report := &DescriptionModificationReport{Version: res.VersionGroup.Copy()}

	statesOf := func(ds []*mdib.Descriptor) []*mdib.State {
		want := map[string]bool{}
		for _, d := range ds {
			want[d.Handle] = true
		}

		var out []*mdib.State

		for _, s := range res.DescrStates {
			if want[s.DescriptorHandle] {
				out = append(out, s)
			}
		}

		return out
	}

	if len(res.DescrCreated) > 0 {
		report.Parts = append(report.Parts, Part{Type: ModificationCreate, Descriptors: res.DescrCreated, States: statesOf(res.DescrCreated)})
	}

	if len(res.DescrUpdated) > 0 {
		report.Parts = append(report.Parts, Part{Type: ModificationUpdate, Descriptors: res.DescrUpdated, States: statesOf(res.DescrUpdated)})
	}

	if len(res.DescrDeleted) > 0 {
		report.Parts = append(report.Parts, Part{Type: ModificationDelete, Descriptors: res.DescrDeleted})
	}

	return report
}
