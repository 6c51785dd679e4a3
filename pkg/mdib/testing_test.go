package mdib_test

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
)

// -----------------------------------------------------------------------------
// Fixture: mds0 -> vmd0 -> chan0 -> {numeric0, wave0}; mds0 -> patient0 (context)
// -----------------------------------------------------------------------------

const testSequenceID = "urn:uuid:00000000-0000-0000-0000-000000000001"

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func testSnapshot() mdib.Snapshot {
	return mdib.Snapshot{
		Version: mdib.VersionGroup{MdibVersion: 3, SequenceID: testSequenceID},
		Descriptors: []*mdib.Descriptor{
			// deliberately child-before-parent to exercise ordering on load
			{Handle: "numeric0", ParentHandle: "chan0", NodeType: mdib.NodeNumericMetric},
			{Handle: "mds0", NodeType: mdib.NodeMds},
			{Handle: "vmd0", ParentHandle: "mds0", NodeType: mdib.NodeVmd},
			{Handle: "chan0", ParentHandle: "vmd0", NodeType: mdib.NodeChannel},
			{Handle: "wave0", ParentHandle: "chan0", NodeType: mdib.NodeRealTimeSampleArrayMetric, SamplePeriod: 0.01},
			{Handle: "patient0", ParentHandle: "mds0", NodeType: mdib.NodePatientContext},
		},
		States: []*mdib.State{
			{DescriptorHandle: "mds0", NodeType: mdib.NodeMds},
			{DescriptorHandle: "numeric0", NodeType: mdib.NodeNumericMetric, StateVersion: 4, MetricValue: &mdib.MetricValue{Value: mdib.Float(72)}},
			{DescriptorHandle: "patient0", Handle: "pat-a", NodeType: mdib.NodePatientContext, ContextAssociation: mdib.AssociationAssociated},
		},
	}
}

func newLoadedMdib(t *testing.T) *mdib.Mdib {
	t.Helper()

	m, err := mdib.New(testSequenceID, mdib.Config{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new mdib: %v", err)
	}

	w := m.Lock()
	defer w.Unlock()

	err = w.Load(testSnapshot())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	return m
}

func handles(ds []*mdib.Descriptor) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Handle)
	}

	return out
}
