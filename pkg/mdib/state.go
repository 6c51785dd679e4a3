package mdib

import (
	"fmt"
	"slices"
)

// Validity of a measured value.
type Validity string

const (
	ValidityValid       Validity = "Vld"
	ValidityValidated   Validity = "Vldated"
	ValidityQuestion    Validity = "Qst"
	ValidityCalibration Validity = "Calib"
	ValidityInvalid     Validity = "Inv"
	ValidityOverflow    Validity = "Oflw"
	ValidityUnderflow   Validity = "Uflw"
	ValidityNotAvail    Validity = "NA"
)

// ContextAssociation of a context state.
type ContextAssociation string

const (
	AssociationNone          ContextAssociation = "No"
	AssociationPre           ContextAssociation = "Pre"
	AssociationAssociated    ContextAssociation = "Assoc"
	AssociationDisassociated ContextAssociation = "Dis"
)

// MetricValue is the current value of a numeric or string metric.
type MetricValue struct {
	Value             *float64 `json:"value,omitempty"`
	StringValue       string   `json:"string_value,omitempty"`
	DeterminationTime float64  `json:"determination_time,omitempty"` // seconds since epoch
	Validity          Validity `json:"validity,omitempty"`
}

// Annotation marks one sample of a sample array, by index.
type Annotation struct {
	Index int    `json:"index"`
	Code  string `json:"code"`
}

// SampleArrayValue is the compact waveform encoding: sample i was taken at
// DeterminationTime + i*SamplePeriod.
type SampleArrayValue struct {
	DeterminationTime float64      `json:"determination_time"` // seconds since epoch
	SamplePeriod      float64      `json:"sample_period,omitempty"`
	Samples           []float64    `json:"samples"`
	Annotations       []Annotation `json:"annotations,omitempty"`
	Validity          Validity     `json:"validity,omitempty"`
}

// InstanceIdentifier identifies the entity a context state is bound to
// (patient id, bed label, ...).
type InstanceIdentifier struct {
	Root      string `json:"root,omitempty"`
	Extension string `json:"extension,omitempty"`
}

// State is the current value/status of a descriptor.
//
// Only the fields relevant to NodeType's category are populated. Context
// states additionally carry their own Handle; every other state is keyed by
// DescriptorHandle.
type State struct {
	NodeType          NodeType `json:"node_type"`
	DescriptorHandle  string   `json:"descriptor_handle"`
	Handle            string   `json:"handle,omitempty"`
	StateVersion      uint64   `json:"state_version"`
	DescriptorVersion uint64   `json:"descriptor_version"`
	ActivationState   string   `json:"activation_state,omitempty"`

	MetricValue *MetricValue      `json:"metric_value,omitempty"`
	SampleArray *SampleArrayValue `json:"sample_array,omitempty"`

	Presence       bool   `json:"presence,omitempty"`
	ActualPriority string `json:"actual_priority,omitempty"`

	OperatingMode string `json:"operating_mode,omitempty"`

	ContextAssociation   ContextAssociation   `json:"context_association,omitempty"`
	BindingMdibVersion   *uint64              `json:"binding_mdib_version,omitempty"`
	UnbindingMdibVersion *uint64              `json:"unbinding_mdib_version,omitempty"`
	Identification       []InstanceIdentifier `json:"identification,omitempty"`
}

// IsContextState reports whether the state is one of possibly many states of
// a context descriptor.
func (s *State) IsContextState() bool {
	return s.NodeType.IsMultiState()
}

// Key returns the handle the state is stored under: its own handle for
// context states, the descriptor handle otherwise.
func (s *State) Key() string {
	if s.IsContextState() {
		return s.Handle
	}

	return s.DescriptorHandle
}

// Copy returns a deep copy.
func (s *State) Copy() *State {
	if s == nil {
		return nil
	}

	out := *s

	if s.MetricValue != nil {
		mv := *s.MetricValue
		if mv.Value != nil {
			v := *mv.Value
			mv.Value = &v
		}

		out.MetricValue = &mv
	}

	if s.SampleArray != nil {
		sa := *s.SampleArray
		sa.Samples = slices.Clone(sa.Samples)
		sa.Annotations = slices.Clone(sa.Annotations)
		out.SampleArray = &sa
	}

	out.BindingMdibVersion = copyUint(s.BindingMdibVersion)
	out.UnbindingMdibVersion = copyUint(s.UnbindingMdibVersion)
	out.Identification = slices.Clone(s.Identification)

	return &out
}

// UpdateFrom replaces s's content with other's, keeping s's keys.
func (s *State) UpdateFrom(other *State) {
	c := other.Copy()
	c.DescriptorHandle = s.DescriptorHandle
	c.Handle = s.Handle
	*s = *c
}

// Diff lists the fields that differ between s and other, in declaration order.
func (s *State) Diff(other *State) []FieldDiff {
	var diffs []FieldDiff

	add := func(field string, a, b string) {
		if a != b {
			diffs = append(diffs, FieldDiff{Field: field, Old: a, New: b})
		}
	}

	add("NodeType", string(s.NodeType), string(other.NodeType))
	add("DescriptorHandle", s.DescriptorHandle, other.DescriptorHandle)
	add("Handle", s.Handle, other.Handle)
	add("StateVersion", fmt.Sprint(s.StateVersion), fmt.Sprint(other.StateVersion))
	add("DescriptorVersion", fmt.Sprint(s.DescriptorVersion), fmt.Sprint(other.DescriptorVersion))
	add("ActivationState", s.ActivationState, other.ActivationState)
	add("MetricValue", formatMetric(s.MetricValue), formatMetric(other.MetricValue))
	add("SampleArray", formatSamples(s.SampleArray), formatSamples(other.SampleArray))
	add("Presence", fmt.Sprint(s.Presence), fmt.Sprint(other.Presence))
	add("ActualPriority", s.ActualPriority, other.ActualPriority)
	add("OperatingMode", s.OperatingMode, other.OperatingMode)
	add("ContextAssociation", string(s.ContextAssociation), string(other.ContextAssociation))
	add("BindingMdibVersion", formatUint(s.BindingMdibVersion), formatUint(other.BindingMdibVersion))
	add("UnbindingMdibVersion", formatUint(s.UnbindingMdibVersion), formatUint(other.UnbindingMdibVersion))
	add("Identification", fmt.Sprint(s.Identification), fmt.Sprint(other.Identification))

	return diffs
}

// Equal reports whether s and other have identical content.
func (s *State) Equal(other *State) bool {
	return len(s.Diff(other)) == 0
}

func formatMetric(mv *MetricValue) string {
	if mv == nil {
		return "<nil>"
	}

	return fmt.Sprintf("{%s %q %v %s}", formatFloat(mv.Value), mv.StringValue, mv.DeterminationTime, mv.Validity)
}

func formatSamples(sa *SampleArrayValue) string {
	if sa == nil {
		return "<nil>"
	}

	return fmt.Sprintf("{%v %v %v %v %s}", sa.DeterminationTime, sa.SamplePeriod, sa.Samples, sa.Annotations, sa.Validity)
}

func formatFloat(f *float64) string {
	if f == nil {
		return "<nil>"
	}

	return fmt.Sprint(*f)
}

func formatUint(u *uint64) string {
	if u == nil {
		return "<nil>"
	}

	return fmt.Sprint(*u)
}

func copyUint(u *uint64) *uint64 {
	if u == nil {
		return nil
	}

	v := *u

	return &v
}

// Float returns a pointer to v, for building metric values.
func Float(v float64) *float64 {
	return &v
}

// Uint returns a pointer to v, for binding versions.
func Uint(v uint64) *uint64 {
	return &v
}
