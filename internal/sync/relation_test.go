package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelationResolver(t *testing.T) {
	idx, _, err := BuildIndex([]*Record{
		{NativeID: "page-a", Key: "Milestone A"},
		{NativeID: "page-b", Key: "Milestone B"},
	}, KeyFromRecord)
	require.NoError(t, err)
	r := NewRelationResolver(idx)

	linked, unlinked := r.Split(Relations{"Milestone A", "Milestone C", "Milestone B"})
	assert.Equal(t, Relations{"Milestone A", "Milestone B"}, linked)
	assert.Equal(t, Relations{"Milestone C"}, unlinked)

	assert.Equal(t, []string{"page-a", "page-b"}, r.NativeIDs(linked))
	assert.Equal(t, Relations{"Milestone B"}, r.KeysForNativeIDs([]string{"page-b", "page-unknown"}))
	assert.Equal(t, "page-a", r.Parent("Milestone A").NativeID)
	assert.Nil(t, r.Parent("Milestone C"))
}

// Many children pointing at one parent resolve independently: relation
// state is never aggregated across records.
func TestRelationFanIn(t *testing.T) {
	idx, _, err := BuildIndex([]*Record{
		{NativeID: "parent-page", Key: "Shared Parent"},
	}, KeyFromRecord)
	require.NoError(t, err)

	specs := NewSpecTable(
		FieldSpec{Name: FieldMilestone, Kind: KindRelations, Authority: AuthSourceToTarget},
	)
	cfg := DiffConfig{
		Specs:     specs,
		Relations: map[string]*RelationResolver{FieldMilestone: NewRelationResolver(idx)},
	}

	for _, key := range []Key{"child-1", "child-2", "child-3"} {
		m := Match{
			Key:    key,
			Source: &Record{Key: key, Fields: map[string]Value{FieldMilestone: Relations{"Shared Parent"}}},
			Target: &Record{Key: key, NativeID: "t-" + string(key), Fields: map[string]Value{}},
		}
		ops := Diff(m, cfg)
		require.Len(t, ops, 1, "child %s", key)
		assert.Equal(t, Relations{"Shared Parent"}, ops[0].Fields[FieldMilestone])
	}
}
