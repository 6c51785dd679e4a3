package provider_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/provider"
)

const testSequenceID = "urn:uuid:11111111-1111-1111-1111-111111111111"

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

// deviceSnapshot: mds0 -> vmd0 -> chan0 -> {numeric0, wave0}; mds0 -> patient0.
func deviceSnapshot() mdib.Snapshot {
	return mdib.Snapshot{
		Descriptors: []*mdib.Descriptor{
			{Handle: "mds0", NodeType: mdib.NodeMds},
			{Handle: "vmd0", ParentHandle: "mds0", NodeType: mdib.NodeVmd},
			{Handle: "chan0", ParentHandle: "vmd0", NodeType: mdib.NodeChannel},
			{Handle: "numeric0", ParentHandle: "chan0", NodeType: mdib.NodeNumericMetric},
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

func newProvider(t *testing.T) *provider.Provider {
	t.Helper()

	p, err := provider.New(provider.Config{SequenceID: testSequenceID, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	t.Cleanup(p.Close)

	return p
}

func newLoadedProvider(t *testing.T) *provider.Provider {
	t.Helper()

	p := newProvider(t)

	err := p.Load(context.Background(), deviceSnapshot())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	return p
}

type recordingSink struct {
	mu       sync.Mutex
	results  []*provider.TransactionResult
	realTime []*provider.RealTimeResult
}

func (s *recordingSink) OnTransaction(res *provider.TransactionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, res)
}

func (s *recordingSink) OnRealTimeSamples(res *provider.RealTimeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.realTime = append(s.realTime, res)
}

func (s *recordingSink) versions() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]uint64, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r.VersionGroup.MdibVersion)
	}

	return out
}

func descrHandles(ds []*mdib.Descriptor) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Handle)
	}

	return out
}

func stateKeys(ss []*mdib.State) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		out = append(out, s.Key())
	}

	return out
}
