package mdib_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/multikey"
)

func Test_New_Returns_Error_When_SequenceID_Empty(t *testing.T) {
	t.Parallel()

	_, err := mdib.New("", mdib.Config{})
	require.Error(t, err)
}

func Test_New_Defaults_DataModel_To_BICEPS(t *testing.T) {
	t.Parallel()

	m, err := mdib.New(testSequenceID, mdib.Config{Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, mdib.BICEPS, m.DataModel())
	assert.Equal(t, mdib.VersionGroup{SequenceID: testSequenceID}, m.VersionGroup())
}

func Test_Load_Inserts_Parents_First_And_Adopts_Version(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)

	assert.Equal(t, uint64(3), m.VersionGroup().MdibVersion)
	assert.Len(t, m.Descriptors(), 6)
	assert.Equal(t, []string{"mds0", "vmd0", "patient0", "chan0", "numeric0", "wave0"}, handles(m.Descriptors()))

	st, err := m.State("numeric0")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), st.StateVersion)

	ctx, err := m.ContextState("pat-a")
	require.NoError(t, err)
	assert.Equal(t, "patient0", ctx.DescriptorHandle)
}

func Test_Load_Returns_Error_When_Mdib_Not_Empty(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)

	w := m.Lock()
	defer w.Unlock()

	require.ErrorIs(t, w.Load(testSnapshot()), mdib.ErrAPIUsage)
}

func Test_SubtreeDescriptors_Returns_PreOrder(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)

	got, err := m.SubtreeDescriptors("mds0")
	require.NoError(t, err)

	want := []string{"mds0", "vmd0", "chan0", "numeric0", "wave0", "patient0"}
	if diff := cmp.Diff(want, handles(got)); diff != "" {
		t.Fatalf("subtree mismatch (-want +got):\n%s", diff)
	}

	_, err = m.SubtreeDescriptors("nope")
	require.ErrorIs(t, err, mdib.ErrNotFound)
}

func Test_SourceMds_Resolves_Root(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)

	root, err := m.SourceMds("numeric0")
	require.NoError(t, err)
	assert.Equal(t, "mds0", root)

	root, err = m.SourceMds("mds0")
	require.NoError(t, err)
	assert.Equal(t, "mds0", root)
}

func Test_Reads_Return_Copies(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)

	st, err := m.State("numeric0")
	require.NoError(t, err)

	*st.MetricValue.Value = 999

	again, err := m.State("numeric0")
	require.NoError(t, err)
	assert.InDelta(t, 72.0, *again.MetricValue.Value, 1e-9)
}

func Test_Indices_Answer_Type_And_Parent_Queries(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)

	assert.Equal(t, []string{"numeric0", "wave0"}, handles(m.Children("chan0")))
	assert.Equal(t, []string{"vmd0"}, handles(m.DescriptorsByType(mdib.NodeVmd)))

	found := m.FindDescriptors(
		multikey.Equal(func(d *mdib.Descriptor) mdib.NodeType { return d.NodeType }, mdib.NodeChannel),
		multikey.Equal(func(d *mdib.Descriptor) string { return d.Handle }, "mds0"),
	)
	assert.Equal(t, []string{"mds0", "chan0"}, handles(found))
}

func Test_PutState_Keeps_One_State_Per_Descriptor(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)

	w := m.Lock()

	created, err := w.PutState(&mdib.State{DescriptorHandle: "numeric0", NodeType: mdib.NodeNumericMetric, StateVersion: 5})
	require.NoError(t, err)
	assert.False(t, created, "existing state is updated in place")

	created, err = w.PutState(&mdib.State{DescriptorHandle: "chan0", NodeType: mdib.NodeChannel})
	require.NoError(t, err)
	assert.True(t, created)

	w.Unlock()

	count := 0

	for _, s := range m.States() {
		if s.DescriptorHandle == "numeric0" {
			count++

			assert.Equal(t, uint64(5), s.StateVersion)
		}
	}

	assert.Equal(t, 1, count)
}

func Test_PutState_Returns_Structural_Error_When_Invalid(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)

	w := m.Lock()
	defer w.Unlock()

	testCases := []struct {
		name  string
		state *mdib.State
		ctx   bool
	}{
		{name: "UnknownDescriptor", state: &mdib.State{DescriptorHandle: "nope", NodeType: mdib.NodeNumericMetric}},
		{name: "NodeTypeMismatch", state: &mdib.State{DescriptorHandle: "numeric0", NodeType: mdib.NodeStringMetric}},
		{name: "ContextDescriptorAsSingle", state: &mdib.State{DescriptorHandle: "patient0", NodeType: mdib.NodePatientContext}},
		{name: "SingleDescriptorAsContext", state: &mdib.State{DescriptorHandle: "numeric0", Handle: "x", NodeType: mdib.NodeNumericMetric}, ctx: true},
		{name: "ContextWithoutHandle", state: &mdib.State{DescriptorHandle: "patient0", NodeType: mdib.NodePatientContext}, ctx: true},
	}

	for _, tc := range testCases {
		var err error
		if tc.ctx {
			_, err = w.PutContextState(tc.state)
		} else {
			_, err = w.PutState(tc.state)
		}

		require.ErrorIs(t, err, mdib.ErrStructural, tc.name)
	}
}

func Test_AddDescriptor_Returns_Structural_Error_When_Invalid(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)

	w := m.Lock()
	defer w.Unlock()

	err := w.AddDescriptor(&mdib.Descriptor{Handle: "x", ParentHandle: "missing", NodeType: mdib.NodeVmd})
	require.ErrorIs(t, err, mdib.ErrStructural)

	var mErr *mdib.Error
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, "x", mErr.Handle)
	assert.Equal(t, "missing", mErr.Parent)

	err = w.AddDescriptor(&mdib.Descriptor{Handle: "vmd0", ParentHandle: "mds0", NodeType: mdib.NodeVmd})
	require.ErrorIs(t, err, mdib.ErrStructural)
	require.ErrorIs(t, err, multikey.ErrDuplicateKey)
}

func Test_UpdateDescriptor_Rejects_Parent_Change(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)

	w := m.Lock()
	defer w.Unlock()

	err := w.UpdateDescriptor(&mdib.Descriptor{Handle: "chan0", ParentHandle: "mds0", NodeType: mdib.NodeChannel})
	require.ErrorIs(t, err, mdib.ErrStructural)

	err = w.UpdateDescriptor(&mdib.Descriptor{Handle: "chan0", ParentHandle: "vmd0", NodeType: mdib.NodeChannel, DescriptorVersion: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), w.Descriptor("chan0").DescriptorVersion)
}

func Test_RemoveDescriptor_Cascades_States_But_Not_Children(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)

	w := m.Lock()
	removed, err := w.RemoveDescriptor("patient0")
	require.NoError(t, err)
	assert.Len(t, removed, 1)

	_, err = w.RemoveDescriptor("vmd0")
	require.NoError(t, err)
	w.Unlock()

	assert.Empty(t, m.ContextStates("patient0"))

	_, err = m.ContextState("pat-a")
	require.ErrorIs(t, err, mdib.ErrNotFound)

	assert.Equal(t, []string{"chan0"}, m.OrphanedDescriptors(), "children are flagged, not removed")
}

func Test_Writer_Publishes_Once_When_Version_Changes(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)
	sub := m.Subscribe(8)

	defer sub.Close()

	w := m.Lock()
	v := w.VersionGroup()
	v.MdibVersion++
	w.SetVersionGroup(v)
	_, err := w.PutState(&mdib.State{DescriptorHandle: "numeric0", NodeType: mdib.NodeNumericMetric, StateVersion: 5})
	require.NoError(t, err)
	w.Unlock()
	w.Unlock()

	// unchanged version: no notification
	m.Lock().Unlock()

	select {
	case got := <-sub.C():
		assert.Equal(t, uint64(4), got.MdibVersion)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}

	select {
	case got := <-sub.C():
		t.Fatalf("unexpected second notification %v", got)
	default:
	}
}

func Test_Readers_Block_While_Writer_Held(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)

	w := m.Lock()

	done := make(chan uint64)

	go func() {
		done <- m.VersionGroup().MdibVersion
	}()

	select {
	case <-done:
		t.Fatal("reader completed while writer held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	v := w.VersionGroup()
	v.MdibVersion = 10
	w.SetVersionGroup(v)
	w.Unlock()

	assert.Equal(t, uint64(10), <-done, "reader sees the committed batch")
}

func Test_Snapshot_Validate_Reports_Broken_Trees(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(s *mdib.Snapshot)
	}{
		{
			name: "MissingParent",
			mutate: func(s *mdib.Snapshot) {
				s.Descriptors = append(s.Descriptors, &mdib.Descriptor{Handle: "x", ParentHandle: "nope", NodeType: mdib.NodeVmd})
			},
		},
		{
			name: "Cycle",
			mutate: func(s *mdib.Snapshot) {
				s.Descriptors = append(s.Descriptors,
					&mdib.Descriptor{Handle: "c1", ParentHandle: "c2", NodeType: mdib.NodeVmd},
					&mdib.Descriptor{Handle: "c2", ParentHandle: "c1", NodeType: mdib.NodeVmd},
				)
			},
		},
		{
			name: "DuplicateHandle",
			mutate: func(s *mdib.Snapshot) {
				s.Descriptors = append(s.Descriptors, &mdib.Descriptor{Handle: "vmd0", ParentHandle: "mds0", NodeType: mdib.NodeVmd})
			},
		},
		{
			name: "TwoStatesForSingleDescriptor",
			mutate: func(s *mdib.Snapshot) {
				s.States = append(s.States, &mdib.State{DescriptorHandle: "mds0", NodeType: mdib.NodeMds})
			},
		},
		{
			name: "StateForUnknownDescriptor",
			mutate: func(s *mdib.Snapshot) {
				s.States = append(s.States, &mdib.State{DescriptorHandle: "ghost", NodeType: mdib.NodeMds})
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			snap := testSnapshot()
			tc.mutate(&snap)

			err := snap.Validate()
			if !errors.Is(err, mdib.ErrStructural) {
				t.Fatalf("err = %v, want ErrStructural", err)
			}
		})
	}

	require.NoError(t, testSnapshot().Validate())
}

func Test_Load_Leaves_Mdib_Empty_When_Snapshot_Invalid(t *testing.T) {
	t.Parallel()

	m, err := mdib.New(testSequenceID, mdib.Config{Logger: quietLogger()})
	require.NoError(t, err)

	snap := testSnapshot()
	snap.States = append(snap.States, &mdib.State{DescriptorHandle: "mds0", NodeType: mdib.NodeMds})

	w := m.Lock()
	require.Error(t, w.Load(snap))
	w.Unlock()

	assert.Empty(t, m.Descriptors())
	assert.Equal(t, uint64(0), m.VersionGroup().MdibVersion)
}

func Test_Restore_Brings_Back_Identical_Snapshot(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)

	w := m.Lock()
	require.NoError(t, w.AddDescriptor(&mdib.Descriptor{Handle: "numeric1", ParentHandle: "chan0", NodeType: mdib.NodeNumericMetric}))
	_, err := w.PutState(&mdib.State{DescriptorHandle: "numeric1", NodeType: mdib.NodeNumericMetric, StateVersion: 1})
	require.NoError(t, err)

	before := w.Snapshot()

	_, err = w.RemoveDescriptor("vmd0")
	require.NoError(t, err)
	_, err = w.RemoveDescriptor("patient0")
	require.NoError(t, err)
	require.NoError(t, w.AddDescriptor(&mdib.Descriptor{Handle: "vmd0", ParentHandle: "mds0", NodeType: mdib.NodeVmd}))
	w.SetVersionGroup(mdib.VersionGroup{MdibVersion: 99, SequenceID: "urn:other"})

	require.NoError(t, w.Restore(before))
	w.Unlock()

	if diff := cmp.Diff(before, m.Snapshot()); diff != "" {
		t.Fatalf("snapshot after restore mismatch (-want +got):\n%s", diff)
	}

	assert.Empty(t, m.OrphanedDescriptors())
}

func Test_OrphanedDescriptors_Lists_Children_Of_Missing_Parents_In_Insertion_Order(t *testing.T) {
	t.Parallel()

	m := newLoadedMdib(t)
	assert.Empty(t, m.OrphanedDescriptors())

	w := m.Lock()
	_, err := w.RemoveDescriptor("chan0")
	require.NoError(t, err)
	w.Unlock()

	assert.Equal(t, []string{"numeric0", "wave0"}, m.OrphanedDescriptors())
}
