package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memApplier applies operations onto an in-memory record map so a second
// pass can run against the result.
type memApplier struct {
	records map[Key]*Record
	fail    map[Key]bool
	applied []Operation
	nextID  int
}

func newMemApplier(records ...*Record) *memApplier {
	a := &memApplier{records: make(map[Key]*Record), fail: make(map[Key]bool)}
	for _, r := range records {
		a.records[r.Key] = r
	}
	return a
}

func (a *memApplier) Apply(_ context.Context, op Operation) (string, error) {
	if a.fail[op.Key] {
		return "", errors.New("injected apply failure")
	}
	a.applied = append(a.applied, op)
	switch op.Kind {
	case OpCreate:
		a.nextID++
		id := fmt.Sprintf("created-%d", a.nextID)
		a.records[op.Key] = &Record{
			NativeID: id,
			Key:      op.Key,
			System:   SystemTarget,
			Fields:   op.Fields,
		}
		return id, nil
	case OpUpdate:
		r := a.records[op.Key]
		for name, v := range op.Fields {
			r.SetField(name, v)
		}
		return op.NativeID, nil
	case OpArchive:
		delete(a.records, op.Key)
		return op.NativeID, nil
	}
	return "", nil
}

func (a *memApplier) targets() []*Record {
	out := make([]*Record, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r)
	}
	return out
}

func sourceOf(records ...*Record) RecordSourceFunc {
	return func(context.Context) ([]*Record, error) { return records, nil }
}

func passSpecs() SpecTable {
	return NewSpecTable(
		FieldSpec{Name: FieldTitle, Kind: KindText, Authority: AuthSourceToTarget},
		FieldSpec{Name: FieldState, Kind: KindSelect, Authority: AuthSourceToTarget},
	)
}

func TestPassCreatesUpdatesAndConverges(t *testing.T) {
	sourceRecords := []*Record{
		rec("k1", SystemSource, map[string]Value{FieldTitle: Text("one"), FieldState: Select("Done")}),
		rec("k2", SystemSource, map[string]Value{FieldTitle: Text("two")}),
	}
	applier := newMemApplier(
		rec("k1", SystemTarget, map[string]Value{FieldTitle: Text("one"), FieldState: Select("Backlog")}),
	)

	pass := &Pass{
		Name:    "test",
		Source:  sourceOf(sourceRecords...),
		Target:  RecordSourceFunc(func(context.Context) ([]*Record, error) { return applier.targets(), nil }),
		Diff:    DiffConfig{Specs: passSpecs(), OnSourceOnly: SourceOnlyCreate},
		Applier: applier,
	}

	report, idx, err := pass.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 0, report.Failed)
	assert.True(t, report.Success())

	// The returned index includes the record created during apply.
	require.NotNil(t, idx.Get("k2"))
	assert.Equal(t, "created-1", idx.Get("k2").NativeID)

	// Second pass over the applied state is a no-op.
	report2, _, err := pass.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report2.Created)
	assert.Zero(t, report2.Updated)
	assert.Equal(t, 2, report2.Unchanged)
}

func TestPassToleratesPartialFailure(t *testing.T) {
	var sourceRecords []*Record
	for i := 1; i <= 5; i++ {
		key := Key(fmt.Sprintf("k%d", i))
		sourceRecords = append(sourceRecords, rec(key, SystemSource, map[string]Value{
			FieldTitle: Text(fmt.Sprintf("title %d", i)),
		}))
	}
	applier := newMemApplier()
	applier.fail["k3"] = true

	pass := &Pass{
		Name:    "test",
		Source:  sourceOf(sourceRecords...),
		Target:  sourceOf(),
		Diff:    DiffConfig{Specs: passSpecs(), OnSourceOnly: SourceOnlyCreate},
		Applier: applier,
	}

	report, _, err := pass.Run(context.Background())
	require.NoError(t, err, "a record failure must not abort the pass")
	assert.Equal(t, 4, report.Created)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, Key("k3"), report.Failures[0].Key)
	assert.False(t, report.Success())
}

func TestPassDuplicateKeyIsFatalBeforeWrites(t *testing.T) {
	sourceRecords := []*Record{
		{NativeID: "n1", Key: "dup", System: SystemSource},
		{NativeID: "n2", Key: "dup", System: SystemSource},
	}
	applier := newMemApplier()

	pass := &Pass{
		Name:    "test",
		Source:  sourceOf(sourceRecords...),
		Target:  sourceOf(),
		Diff:    DiffConfig{Specs: passSpecs()},
		Applier: applier,
	}

	_, _, err := pass.Run(context.Background())
	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, Key("dup"), dup.Key)
	assert.Empty(t, applier.applied, "nothing may be written after a fatal indexing error")
}

func TestPassDryRunWritesNothing(t *testing.T) {
	applier := newMemApplier()
	pass := &Pass{
		Name:    "test",
		Source:  sourceOf(rec("k1", SystemSource, map[string]Value{FieldTitle: Text("one")})),
		Target:  sourceOf(),
		Diff:    DiffConfig{Specs: passSpecs(), OnSourceOnly: SourceOnlyCreate},
		Applier: applier,
		DryRun:  true,
	}

	report, _, err := pass.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created, "dry run still reports what it would do")
	assert.Empty(t, applier.applied)
}

func TestPassUnresolvedSourceHook(t *testing.T) {
	unkeyed := &Record{NativeID: "page1", System: SystemSource, Fields: map[string]Value{
		FieldTitle: Text("assign me"),
	}}
	skipped := &Record{NativeID: "page2", System: SystemSource, Fields: map[string]Value{}}
	applier := newMemApplier()

	pass := &Pass{
		Name:   "test",
		Source: sourceOf(unkeyed, skipped),
		Target: sourceOf(),
		OnUnresolvedSource: func(_ context.Context, r *Record) (Key, bool) {
			if r.NativeID == "page1" {
				return "assigned", true
			}
			return "", false
		},
		Diff:    DiffConfig{Specs: passSpecs(), OnSourceOnly: SourceOnlyCreate},
		Applier: applier,
	}

	report, _, err := pass.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, Key("assigned"), unkeyed.Key)
}

func TestPassUnlinkedRelationCountsAndRetries(t *testing.T) {
	specs := NewSpecTable(
		FieldSpec{Name: FieldMilestone, Kind: KindRelations, Authority: AuthSourceToTarget},
	)
	parentIdx := NewIndex()
	resolver := NewRelationResolver(parentIdx)
	applier := newMemApplier(rec("k1", SystemTarget, map[string]Value{}))

	pass := &Pass{
		Name:   "test",
		Source: sourceOf(rec("k1", SystemSource, map[string]Value{FieldMilestone: Relations{"missing"}})),
		Target: RecordSourceFunc(func(context.Context) ([]*Record, error) { return applier.targets(), nil }),
		Diff: DiffConfig{
			Specs:     specs,
			Relations: map[string]*RelationResolver{FieldMilestone: resolver},
		},
		Applier: applier,
	}

	report, _, err := pass.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unlinked)
	assert.Empty(t, applier.applied, "an op with only unlinked fields is a noop")
	require.NotEmpty(t, report.Warnings, "unlinked fields surface on the report")
	assert.Contains(t, report.Warnings[0], "left unlinked")

	// Once the parent exists the next pass links it.
	require.NoError(t, parentIdx.Add(&Record{NativeID: "parent-1", Key: "missing"}))
	report2, _, err := pass.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report2.Unlinked)
	assert.Equal(t, 1, report2.Updated)
}

func TestMatchIndicesCoversBothSides(t *testing.T) {
	source, _, err := BuildIndex([]*Record{
		rec("a", SystemSource, nil), rec("b", SystemSource, nil),
	}, KeyFromRecord)
	require.NoError(t, err)
	target, _, err := BuildIndex([]*Record{
		rec("b", SystemTarget, nil), rec("c", SystemTarget, nil),
	}, KeyFromRecord)
	require.NoError(t, err)

	matches := MatchIndices(source, target)
	kinds := make(map[Key]MatchKind, len(matches))
	for _, m := range matches {
		kinds[m.Key] = m.Kind()
	}
	assert.Equal(t, map[Key]MatchKind{
		"a": SourceOnly,
		"b": Matched,
		"c": TargetOnly,
	}, kinds)
}
