package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMergeIfEmpty(t *testing.T) {
	assert.Equal(t, Text("new"), MergeIfEmpty(Match{}, Text("new"), nil))
	assert.Equal(t, Text("new"), MergeIfEmpty(Match{}, Text("new"), Text("")))
	assert.Equal(t, Text("kept"), MergeIfEmpty(Match{}, Text("new"), Text("kept")))
}

func TestMergePreserveUnmapped(t *testing.T) {
	mapped := map[string]bool{"alice": true, "bob": true}
	merge := MergePreserveUnmapped(func(name string) bool { return mapped[name] })

	authoritative := Persons{{NotionID: "id-alice", Name: "alice"}}
	current := Persons{
		{NotionID: "id-bob", Name: "bob"},      // mapped, page removed them
		{NotionID: "", Name: "community-dev"},  // unmapped, must survive
	}

	got := merge(Match{}, authoritative, current).(Persons)
	names := make([]string, len(got))
	for i, p := range got {
		names[i] = p.Name
	}
	assert.ElementsMatch(t, []string{"alice", "community-dev"}, names)
}

func TestMergeStateFallback(t *testing.T) {
	merge := MergeStateFallback(FieldClosedAt, "Backlog", []string{"Done", "Canceled"})
	now := time.Now()
	closedSource := &Record{Fields: map[string]Value{
		FieldClosedAt: DateRange{Start: &now},
	}}
	openSource := &Record{Fields: map[string]Value{}}

	tests := []struct {
		name    string
		source  *Record
		auth    Value
		current Value
		want    Select
	}{
		{"native state passes through", openSource, Select("RESOLVED"), Select("Backlog"), "RESOLVED"},
		{"closed keeps a closed state", closedSource, Select(""), Select("Canceled"), "Canceled"},
		{"closed replaces an open state", closedSource, Select(""), Select("In progress"), "Done"},
		{"open keeps a custom state", openSource, Select(""), Select("In progress"), "In progress"},
		{"open replaces a closed state", openSource, Select(""), Select("Done"), "Backlog"},
		{"open defaults when unset", openSource, Select(""), nil, "Backlog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Match{Source: tt.source}
			got := merge(m, tt.auth, tt.current)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMergeUnionLabels(t *testing.T) {
	merge := MergeUnionLabels("sync")
	tests := []struct {
		name    string
		auth    Value
		current Value
		want    Labels
	}{
		{"keeps existing labels", Labels{"bug", "shared"}, Labels{"manual", "shared"}, Labels{"manual", "shared", "bug", "sync"}},
		{"extra already present", nil, Labels{"sync", "bug"}, Labels{"sync", "bug"}},
		{"no current labels", Labels{"bug"}, nil, Labels{"bug", "sync"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := merge(Match{}, tt.auth, tt.current)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMergeTaskDates(t *testing.T) {
	var warnings []string
	warn := func(format string, args ...any) { warnings = append(warnings, format) }
	merge := MergeTaskDates([]string{"Done"}, warn)

	created := dayPtr(2026, 1, 1)
	closed := dayPtr(2026, 2, 1)
	sprintStart, sprintEnd := dayPtr(2026, 3, 1), dayPtr(2026, 3, 14)
	plannedStart, plannedEnd := dayPtr(2026, 1, 10), dayPtr(2026, 1, 20)

	mkSource := func(state string, fields map[string]Value) *Record {
		r := &Record{Fields: map[string]Value{
			FieldState:     Select(state),
			FieldCreatedAt: DateRange{Start: created},
		}}
		for k, v := range fields {
			r.Fields[k] = v
		}
		return r
	}

	t.Run("sprint dates win", func(t *testing.T) {
		src := mkSource("In progress", map[string]Value{
			FieldSprintDates: DateRange{Start: sprintStart, End: sprintEnd},
		})
		got := merge(Match{Source: src}, DateRange{Start: plannedStart, End: plannedEnd}, nil).(DateRange)
		assert.Equal(t, DateRange{Start: sprintStart, End: sprintEnd}, got)
	})

	t.Run("issue dates clamp to creation", func(t *testing.T) {
		early := dayPtr(2025, 12, 1)
		src := mkSource("In progress", nil)
		got := merge(Match{Source: src}, DateRange{Start: early, End: plannedEnd}, nil).(DateRange)
		assert.Equal(t, created, got.Start, "planned start may not precede creation")
		assert.Equal(t, plannedEnd, got.End)
	})

	t.Run("issue dates keep the later current start", func(t *testing.T) {
		src := mkSource("In progress", nil)
		current := DateRange{Start: dayPtr(2026, 1, 15)}
		got := merge(Match{Source: src}, DateRange{Start: plannedStart, End: plannedEnd}, current).(DateRange)
		assert.Equal(t, dayPtr(2026, 1, 15), got.Start)
	})

	t.Run("missing end falls back to close time", func(t *testing.T) {
		src := mkSource("Done", map[string]Value{
			FieldClosedAt: DateRange{Start: closed},
		})
		got := merge(Match{Source: src}, DateRange{Start: plannedStart}, nil).(DateRange)
		assert.Equal(t, closed, got.End)
	})

	t.Run("closed record with no dates spans creation to close", func(t *testing.T) {
		src := mkSource("Done", map[string]Value{
			FieldClosedAt: DateRange{Start: closed},
		})
		got := merge(Match{Source: src}, DateRange{}, nil).(DateRange)
		assert.Equal(t, DateRange{Start: created, End: closed}, got)
	})

	t.Run("open record with no dates stays empty", func(t *testing.T) {
		src := mkSource("In progress", nil)
		got := merge(Match{Source: src}, DateRange{}, nil).(DateRange)
		assert.True(t, got.Empty())
	})

	t.Run("end before start clamps with a warning", func(t *testing.T) {
		warnings = nil
		src := mkSource("In progress", nil)
		got := merge(Match{Source: src}, DateRange{Start: dayPtr(2026, 5, 1), End: dayPtr(2026, 4, 1)}, nil).(DateRange)
		assert.Equal(t, got.Start, got.End)
		assert.Len(t, warnings, 1)
	})
}

func dayPtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}
