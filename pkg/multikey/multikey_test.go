package multikey_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/multikey"
)

type item struct {
	ID     string
	Group  string
	Tags   []string
	Parent string
}

func newTestStore(t *testing.T) *multikey.Store[*item] {
	t.Helper()

	s, err := multikey.New([]*multikey.Index[*item]{
		multikey.Unique("id", func(it *item) (string, bool) { return it.ID, true }),
		multikey.Multi("group", func(it *item) (string, bool) { return it.Group, it.Group != "" }),
		multikey.OneToMany("tags", func(it *item) []string { return it.Tags }),
	})
	require.NoError(t, err, "New should accept distinct indices")

	return s
}

func ids(items []*item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}

	return out
}

func keys(s *multikey.Store[*item], index string) []string {
	s.RLock()
	defer s.RUnlock()

	return s.Index(index).KeysUnlocked()
}

func Test_New_Returns_Error_When_Index_Names_Collide(t *testing.T) {
	t.Parallel()

	_, err := multikey.New([]*multikey.Index[*item]{
		multikey.Unique("id", func(it *item) (string, bool) { return it.ID, true }),
		multikey.Multi("id", func(it *item) (string, bool) { return it.Group, true }),
	})
	require.Error(t, err)
}

func Test_New_Returns_Error_When_Index_Reused(t *testing.T) {
	t.Parallel()

	idx := multikey.Unique("id", func(it *item) (string, bool) { return it.ID, true })

	_, err := multikey.New([]*multikey.Index[*item]{idx})
	require.NoError(t, err)

	_, err = multikey.New([]*multikey.Index[*item]{idx})
	require.Error(t, err, "an index belongs to exactly one store")
}

func Test_Add_Files_Object_Under_All_Indices(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	a := &item{ID: "a", Group: "g1", Tags: []string{"x", "y", "x"}}
	require.NoError(t, s.Add(a))

	got, err := s.Index("id").GetOne("a", false)
	require.NoError(t, err)
	assert.Same(t, a, got)

	assert.Equal(t, []string{"a"}, ids(s.Index("group").Get("g1")))
	assert.Equal(t, []string{"a"}, ids(s.Index("tags").Get("x")), "duplicate keys of one object are filed once")
	assert.Equal(t, []string{"a"}, ids(s.Index("tags").Get("y")))
	assert.ElementsMatch(t, []string{"x", "y"}, keys(s, "tags"))
}

func Test_Add_Is_All_Or_Nothing_When_Unique_Key_Collides(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	require.NoError(t, s.Add(&item{ID: "a", Group: "g1"}))

	dup := &item{ID: "a", Group: "g2", Tags: []string{"t"}}
	err := s.Add(dup)
	require.ErrorIs(t, err, multikey.ErrDuplicateKey)

	var mkErr *multikey.Error
	require.ErrorAs(t, err, &mkErr)
	assert.Equal(t, "id", mkErr.Index)
	assert.Equal(t, "a", mkErr.Key)

	assert.Empty(t, s.Index("group").Get("g2"), "no partial group entry")
	assert.Empty(t, s.Index("tags").Get("t"), "no partial tag entry")
	assert.Equal(t, 1, s.Len())
	assert.False(t, s.Contains(dup))
}

func Test_Add_Returns_Error_When_Object_Already_Stored(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	a := &item{ID: "a"}

	require.NoError(t, s.Add(a))
	require.ErrorIs(t, s.Add(a), multikey.ErrAlreadyPresent)
}

func Test_GetOne_Reports_Ambiguity_And_Absence(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Add(&item{ID: "a", Group: "g"}))
	require.NoError(t, s.Add(&item{ID: "b", Group: "g"}))

	_, err := s.Index("group").GetOne("g", true)
	require.ErrorIs(t, err, multikey.ErrAmbiguous)

	got, err := s.Index("group").GetOne("missing", true)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = s.Index("group").GetOne("missing", false)
	require.ErrorIs(t, err, multikey.ErrNotFound)
}

func Test_Update_Refiles_Object_When_Mutated_In_Place(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	a := &item{ID: "a", Group: "old", Tags: []string{"t1"}}
	require.NoError(t, s.Add(a))

	a.Group = "new"
	a.Tags = []string{"t2"}
	require.NoError(t, s.Update(a))

	assert.Empty(t, s.Index("group").Get("old"))
	assert.Equal(t, []string{"a"}, ids(s.Index("group").Get("new")))
	assert.Empty(t, s.Index("tags").Get("t1"))
	assert.Equal(t, []string{"a"}, ids(s.Index("tags").Get("t2")))
}

func Test_Update_Keeps_Old_Positions_When_Unique_Key_Collides(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	a := &item{ID: "a", Group: "ga"}
	b := &item{ID: "b", Group: "gb"}
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))

	b.ID = "a"
	b.Group = "moved"
	require.ErrorIs(t, s.Update(b), multikey.ErrDuplicateKey)

	got, err := s.Index("id").GetOne("b", false)
	require.NoError(t, err, "b stays reachable under its old key")
	assert.Same(t, b, got)
	assert.Equal(t, []string{"b"}, ids(s.Index("group").Get("gb")))
	assert.Empty(t, s.Index("group").Get("moved"))
}

func Test_Remove_Drops_All_Entries(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	a := &item{ID: "a", Group: "g", Tags: []string{"t"}}
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Remove(a))

	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Index("id").Get("a"))
	assert.Empty(t, keys(s, "group"))
	assert.Empty(t, keys(s, "tags"))
	require.ErrorIs(t, s.Remove(a), multikey.ErrUnknownObject)
	require.ErrorIs(t, s.Update(a), multikey.ErrUnknownObject)
}

func Test_Objects_Returns_Insertion_Order(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Add(&item{ID: id}))
	}

	if diff := cmp.Diff([]string{"c", "a", "b"}, ids(s.Objects())); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func Test_Find_Combines_Predicates_With_Or(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Add(&item{ID: "a", Group: "g1"}))
	require.NoError(t, s.Add(&item{ID: "b", Group: "g2"}))
	require.NoError(t, s.Add(&item{ID: "c", Group: "g3", Parent: "a"}))

	got := s.Find(
		multikey.Equal(func(it *item) string { return it.Group }, "g1"),
		multikey.Equal(func(it *item) string { return it.Parent }, "a"),
	)
	assert.Equal(t, []string{"a", "c"}, ids(got))
	assert.Len(t, s.Find(), 3, "no predicates match everything")
}

func Test_Stores_Share_Lock_When_WithMutex_Used(t *testing.T) {
	t.Parallel()

	mu := &sync.RWMutex{}
	s1, err := multikey.New[*item](nil, multikey.WithMutex(mu))
	require.NoError(t, err)
	s2, err := multikey.New[*item](nil, multikey.WithMutex(mu))
	require.NoError(t, err)

	s1.Lock()
	require.NoError(t, s1.AddUnlocked(&item{ID: "x"}))
	require.NoError(t, s2.AddUnlocked(&item{ID: "y"}))
	assert.False(t, mu.TryRLock(), "both stores hold the same write lock")
	s1.Unlock()

	assert.Equal(t, 1, s2.Len())
}

func Test_Store_Invariants_Hold_When_Random_Operations_Applied(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		s, err := multikey.New([]*multikey.Index[*item]{
			multikey.Unique("id", func(it *item) (string, bool) { return it.ID, true }),
			multikey.Multi("group", func(it *item) (string, bool) { return it.Group, true }),
		})
		if err != nil {
			rt.Fatalf("new: %v", err)
		}

		live := map[string]*item{}
		idGen := rapid.SampledFrom([]string{"a", "b", "c", "d", "e"})
		groupGen := rapid.SampledFrom([]string{"g1", "g2", "g3"})

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := range steps {
			id := idGen.Draw(rt, fmt.Sprintf("id%d", i))
			group := groupGen.Draw(rt, fmt.Sprintf("group%d", i))

			switch rapid.IntRange(0, 2).Draw(rt, fmt.Sprintf("op%d", i)) {
			case 0:
				addErr := s.Add(&item{ID: id, Group: group})
				if _, exists := live[id]; exists {
					if !errors.Is(addErr, multikey.ErrDuplicateKey) {
						rt.Fatalf("add dup %s: err = %v", id, addErr)
					}

					continue
				}

				if addErr != nil {
					rt.Fatalf("add %s: %v", id, addErr)
				}

				got, _ := s.Index("id").GetOne(id, false)
				live[id] = got
			case 1:
				it, exists := live[id]
				if !exists {
					continue
				}

				it.Group = group
				if updErr := s.Update(it); updErr != nil {
					rt.Fatalf("update %s: %v", id, updErr)
				}
			case 2:
				it, exists := live[id]
				if !exists {
					continue
				}

				if rmErr := s.Remove(it); rmErr != nil {
					rt.Fatalf("remove %s: %v", id, rmErr)
				}

				delete(live, id)
			}
		}

		if s.Len() != len(live) {
			rt.Fatalf("len = %d, want %d", s.Len(), len(live))
		}

		total := 0
		for _, g := range []string{"g1", "g2", "g3"} {
			for _, it := range s.Index("group").Get(g) {
				if it.Group != g {
					rt.Fatalf("item %s filed under %s but has group %s", it.ID, g, it.Group)
				}

				total++
			}
		}

		if total != len(live) {
			rt.Fatalf("group index holds %d entries, want %d", total, len(live))
		}
	})
}
