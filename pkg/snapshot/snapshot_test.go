package snapshot_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/snapshot"
)

func Test_ReadFile_Accepts_Comments_And_Trailing_Commas(t *testing.T) {
	t.Parallel()

	snap, err := snapshot.ReadFile(filepath.Join("testdata", "monitor.hujson"))
	require.NoError(t, err)

	assert.Equal(t, uint64(12), snap.Version.MdibVersion)
	require.Len(t, snap.Descriptors, 6)
	require.Len(t, snap.States, 2)

	hr := snap.Descriptors[3]
	assert.Equal(t, "hr", hr.Handle)
	assert.Equal(t, "264864", hr.Unit.Code)
	assert.InDelta(t, 61.0, *snap.States[0].MetricValue.Value, 1e-12)
	assert.Equal(t, mdib.AssociationAssociated, snap.States[1].ContextAssociation)
}

func Test_WriteFile_Then_ReadFile_Preserves_Snapshot(t *testing.T) {
	t.Parallel()

	want, err := snapshot.ReadFile(filepath.Join("testdata", "monitor.hujson"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, snapshot.WriteFile(path, want))

	got, err := snapshot.ReadFile(path)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot changed (-want +got):\n%s", diff)
	}
}

func Test_WriteFile_Keeps_Old_File_When_Snapshot_Invalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	err := snapshot.WriteFile(path, mdib.Snapshot{
		Descriptors: []*mdib.Descriptor{{Handle: "vmd0", ParentHandle: "missing", NodeType: mdib.NodeVmd}},
	})
	require.ErrorIs(t, err, snapshot.ErrInvalid)
	require.ErrorIs(t, err, mdib.ErrStructural)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func Test_Parse_Returns_Invalid_When_Document_Broken(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		doc  string
	}{
		{name: "Syntax", doc: `{"descriptors": [`},
		{name: "UnknownField", doc: `{"descriptors": [], "bogus": 1}`},
		{name: "DuplicateHandle", doc: `{"descriptors": [
			{"handle": "mds0", "node_type": "MdsDescriptor"},
			{"handle": "mds0", "node_type": "MdsDescriptor"}]}`},
		{name: "TwoStatesForOneDescriptor", doc: `{
			"descriptors": [{"handle": "mds0", "node_type": "MdsDescriptor"}],
			"states": [
				{"descriptor_handle": "mds0", "node_type": "MdsDescriptor"},
				{"descriptor_handle": "mds0", "node_type": "MdsDescriptor"}]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := snapshot.Read(strings.NewReader(tc.doc))
			require.ErrorIs(t, err, snapshot.ErrInvalid)
		})
	}
}

func Test_Marshal_Writes_Empty_Lists_For_Empty_Snapshot(t *testing.T) {
	t.Parallel()

	data, err := snapshot.Marshal(mdib.Snapshot{})
	require.NoError(t, err)

	assert.Contains(t, string(data), `"descriptors": []`)
	assert.Contains(t, string(data), `"states": []`)
	assert.True(t, strings.HasSuffix(string(data), "\n"))
}
