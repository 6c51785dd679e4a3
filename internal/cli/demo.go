package cli

import "github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"

// demoSnapshot is a small bedside monitor: heart rate and SpO2 numerics, an
// ECG waveform, a heart rate limit alarm, patient and location contexts and a
// set-value operation.
func demoSnapshot() mdib.Snapshot {
	mdc := func(code string) *mdib.CodedValue {
		return &mdib.CodedValue{Code: code, CodingSystem: "urn:oid:1.2.840.10004.1.1.1.0.0.1"}
	}

	return mdib.Snapshot{
		Descriptors: []*mdib.Descriptor{
			{Handle: "mds0", NodeType: mdib.NodeMds, Type: mdc("69837")},
			{Handle: "clock0", ParentHandle: "mds0", NodeType: mdib.NodeClock},
			{Handle: "sysctx0", ParentHandle: "mds0", NodeType: mdib.NodeSystemContext},
			{Handle: "patient0", ParentHandle: "sysctx0", NodeType: mdib.NodePatientContext},
			{Handle: "location0", ParentHandle: "sysctx0", NodeType: mdib.NodeLocationContext},
			{Handle: "vmd0", ParentHandle: "mds0", NodeType: mdib.NodeVmd},
			{Handle: "ecg", ParentHandle: "vmd0", NodeType: mdib.NodeChannel},
			{
				Handle: "hr", ParentHandle: "ecg", NodeType: mdib.NodeNumericMetric,
				Type: mdc("147842"), Unit: mdc("264864"), SafetyClassification: "MedA",
				Retrievability: []mdib.Retrievability{{Method: mdib.RetrieveEpisodic}},
			},
			{
				Handle: "ecg.ii", ParentHandle: "ecg", NodeType: mdib.NodeRealTimeSampleArrayMetric,
				Type: mdc("131330"), Unit: mdc("266418"), SamplePeriod: 0.004,
				Retrievability: []mdib.Retrievability{{Method: mdib.RetrievePeriodic, UpdatePeriod: 0.1}},
			},
			{Handle: "spo2chan", ParentHandle: "vmd0", NodeType: mdib.NodeChannel},
			{Handle: "spo2", ParentHandle: "spo2chan", NodeType: mdib.NodeNumericMetric, Type: mdc("150456"), Unit: mdc("262688")},
			{Handle: "alerts0", ParentHandle: "mds0", NodeType: mdib.NodeAlertSystem},
			{Handle: "hr.high", ParentHandle: "alerts0", NodeType: mdib.NodeLimitAlertCondition},
			{Handle: "hr.high.signal", ParentHandle: "alerts0", NodeType: mdib.NodeAlertSignal},
			{Handle: "sco0", ParentHandle: "mds0", NodeType: mdib.NodeSco},
			{Handle: "set.hr.limit", ParentHandle: "sco0", NodeType: mdib.NodeSetValueOperation},
		},
		States: []*mdib.State{
			{DescriptorHandle: "mds0", NodeType: mdib.NodeMds, ActivationState: "On"},
			{DescriptorHandle: "vmd0", NodeType: mdib.NodeVmd, ActivationState: "On"},
			{DescriptorHandle: "ecg", NodeType: mdib.NodeChannel, ActivationState: "On"},
			{
				DescriptorHandle: "hr", NodeType: mdib.NodeNumericMetric, ActivationState: "On",
				MetricValue: &mdib.MetricValue{Value: mdib.Float(72), Validity: mdib.ValidityValid},
			},
			{DescriptorHandle: "ecg.ii", NodeType: mdib.NodeRealTimeSampleArrayMetric, ActivationState: "On"},
			{
				DescriptorHandle: "spo2", NodeType: mdib.NodeNumericMetric, ActivationState: "On",
				MetricValue: &mdib.MetricValue{Value: mdib.Float(97), Validity: mdib.ValidityValid},
			},
			{DescriptorHandle: "alerts0", NodeType: mdib.NodeAlertSystem, ActivationState: "On"},
			{DescriptorHandle: "hr.high", NodeType: mdib.NodeLimitAlertCondition, ActivationState: "On", ActualPriority: "Me"},
			{DescriptorHandle: "hr.high.signal", NodeType: mdib.NodeAlertSignal, ActivationState: "On"},
			{DescriptorHandle: "set.hr.limit", NodeType: mdib.NodeSetValueOperation, OperatingMode: "En"},
			{
				DescriptorHandle: "location0", Handle: "location0.bed12", NodeType: mdib.NodeLocationContext,
				ContextAssociation: mdib.AssociationAssociated,
				Identification:     []mdib.InstanceIdentifier{{Root: "urn:hospital:icu", Extension: "bed12"}},
			},
		},
	}
}
