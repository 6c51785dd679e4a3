package consumer_test

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/consumer"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/reports"
)

const (
	seqA = "urn:a"
	seqB = "urn:b"
)

// replicaSnapshot: mds0 -> vmd0 -> chan0 -> {numeric0, wave0}; mds0 -> patient0.
func replicaSnapshot(version uint64) mdib.Snapshot {
	return mdib.Snapshot{
		Version: mdib.VersionGroup{MdibVersion: version, SequenceID: seqA},
		Descriptors: []*mdib.Descriptor{
			{Handle: "mds0", NodeType: mdib.NodeMds},
			{Handle: "vmd0", ParentHandle: "mds0", NodeType: mdib.NodeVmd},
			{Handle: "chan0", ParentHandle: "vmd0", NodeType: mdib.NodeChannel},
			{Handle: "numeric0", ParentHandle: "chan0", NodeType: mdib.NodeNumericMetric},
			{Handle: "wave0", ParentHandle: "chan0", NodeType: mdib.NodeRealTimeSampleArrayMetric, SamplePeriod: 0.5},
			{Handle: "patient0", ParentHandle: "mds0", NodeType: mdib.NodePatientContext},
		},
		States: []*mdib.State{
			{DescriptorHandle: "mds0", NodeType: mdib.NodeMds, StateVersion: 1},
			numeric(3, 72),
			{DescriptorHandle: "patient0", Handle: "pat-a", NodeType: mdib.NodePatientContext, ContextAssociation: mdib.AssociationAssociated},
		},
	}
}

func numeric(stateVersion uint64, value float64) *mdib.State {
	return &mdib.State{
		DescriptorHandle: "numeric0",
		NodeType:         mdib.NodeNumericMetric,
		StateVersion:     stateVersion,
		MetricValue:      &mdib.MetricValue{Value: mdib.Float(value), Validity: mdib.ValidityValid},
	}
}

func metricReport(version uint64, seq string, states ...*mdib.State) *reports.StateReport {
	return &reports.StateReport{
		ReportKind: reports.KindEpisodicMetric,
		Version:    mdib.VersionGroup{MdibVersion: version, SequenceID: seq},
		States:     states,
	}
}

func newConsumer(t *testing.T, cfg consumer.Config) (*consumer.Consumer, *test.Hook) {
	t.Helper()

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	cfg.Logger = log

	c, err := consumer.New(cfg)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	t.Cleanup(c.Close)

	return c, hook
}

func newInitialized(t *testing.T, version uint64) (*consumer.Consumer, *test.Hook) {
	t.Helper()

	c, hook := newConsumer(t, consumer.Config{})

	err := c.Initialize(replicaSnapshot(version))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	hook.Reset()

	return c, hook
}

func apply(t *testing.T, c *consumer.Consumer, r reports.Report) consumer.Outcome {
	t.Helper()

	out, err := c.Apply(context.Background(), r)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	return out
}

func countEntries(hook *test.Hook, level logrus.Level, msg string) int {
	n := 0

	for _, e := range hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			n++
		}
	}

	return n
}

func countLevel(hook *test.Hook, level logrus.Level) int {
	n := 0

	for _, e := range hook.AllEntries() {
		if e.Level == level {
			n++
		}
	}

	return n
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}
