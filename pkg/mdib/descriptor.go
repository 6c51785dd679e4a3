package mdib

import (
	"fmt"
	"slices"
)

// CodedValue identifies a concept in a coding system (e.g. MDC).
type CodedValue struct {
	Code         string `json:"code"`
	CodingSystem string `json:"coding_system,omitempty"`
}

func (c *CodedValue) String() string {
	if c == nil {
		return "<nil>"
	}

	if c.CodingSystem == "" {
		return c.Code
	}

	return c.CodingSystem + ":" + c.Code
}

// RetrieveMethod says how a client learns about state changes.
type RetrieveMethod string

const (
	RetrieveEpisodic RetrieveMethod = "Episodic"
	RetrievePeriodic RetrieveMethod = "Periodic"
)

// Retrievability is one retrieval policy entry of a descriptor.
type Retrievability struct {
	Method RetrieveMethod `json:"method"`
	// UpdatePeriod in seconds, only meaningful for periodic retrieval.
	UpdatePeriod float64 `json:"update_period,omitempty"`
}

// FieldDiff is one field-level difference between two containers.
type FieldDiff struct {
	Field string
	Old   string
	New   string
}

func (d FieldDiff) String() string {
	return fmt.Sprintf("%s: %s -> %s", d.Field, d.Old, d.New)
}

// Descriptor is a node of the MDIB tree.
//
// Handle is the immutable identity. ParentHandle is empty only for root nodes.
// DescriptorVersion is set by whoever produced the descriptor; the stores never
// bump it on their own.
type Descriptor struct {
	Handle               string           `json:"handle"`
	ParentHandle         string           `json:"parent_handle,omitempty"`
	NodeType             NodeType         `json:"node_type"`
	DescriptorVersion    uint64           `json:"descriptor_version"`
	SourceMds            string           `json:"source_mds,omitempty"`
	SafetyClassification string           `json:"safety_classification,omitempty"`
	Type                 *CodedValue      `json:"type,omitempty"`
	Unit                 *CodedValue      `json:"unit,omitempty"`
	SamplePeriod         float64          `json:"sample_period,omitempty"` // seconds, real-time metrics only
	Retrievability       []Retrievability `json:"retrievability,omitempty"`
}

// IsRoot reports whether the descriptor has no parent.
func (d *Descriptor) IsRoot() bool {
	return d.ParentHandle == ""
}

// IsContextDescriptor reports whether the descriptor owns context states.
func (d *Descriptor) IsContextDescriptor() bool {
	return d.NodeType.IsMultiState()
}

// Copy returns a deep copy.
func (d *Descriptor) Copy() *Descriptor {
	if d == nil {
		return nil
	}

	out := *d
	out.Type = copyCoded(d.Type)
	out.Unit = copyCoded(d.Unit)
	out.Retrievability = slices.Clone(d.Retrievability)

	return &out
}

// UpdateFrom replaces d's content with other's, keeping d's identity.
func (d *Descriptor) UpdateFrom(other *Descriptor) {
	c := other.Copy()
	c.Handle = d.Handle
	*d = *c
}

// Diff lists the fields that differ between d and other, in declaration order.
func (d *Descriptor) Diff(other *Descriptor) []FieldDiff {
	var diffs []FieldDiff

	add := func(field string, a, b any) {
		sa, sb := fmt.Sprint(a), fmt.Sprint(b)
		if sa != sb {
			diffs = append(diffs, FieldDiff{Field: field, Old: sa, New: sb})
		}
	}

	add("Handle", d.Handle, other.Handle)
	add("ParentHandle", d.ParentHandle, other.ParentHandle)
	add("NodeType", d.NodeType, other.NodeType)
	add("DescriptorVersion", d.DescriptorVersion, other.DescriptorVersion)
	add("SourceMds", d.SourceMds, other.SourceMds)
	add("SafetyClassification", d.SafetyClassification, other.SafetyClassification)
	add("Type", d.Type.String(), other.Type.String())
	add("Unit", d.Unit.String(), other.Unit.String())
	add("SamplePeriod", d.SamplePeriod, other.SamplePeriod)
	add("Retrievability", d.Retrievability, other.Retrievability)

	return diffs
}

// Equal reports whether d and other have identical content.
func (d *Descriptor) Equal(other *Descriptor) bool {
	return len(d.Diff(other)) == 0
}

func copyCoded(c *CodedValue) *CodedValue {
	if c == nil {
		return nil
	}

	out := *c

	return &out
}
