package sets

import (
	"context"
	"testing"
	"time"

	"github.com/notionsync/notionsync/internal/sync"
	"github.com/notionsync/notionsync/internal/tracker"
)

func TestTranslateState(t *testing.T) {
	closed := []string{"Done", "Canceled"}
	now := time.Now()

	tests := []struct {
		name       string
		got        *tracker.Issue
		state      string
		wantState  string
		wantClosed bool
	}{
		{
			name:       "stateless tracker closes an open issue",
			got:        &tracker.Issue{},
			state:      "Done",
			wantState:  "",
			wantClosed: true,
		},
		{
			name:       "stateless tracker reopens a closed issue",
			got:        &tracker.Issue{ClosedAt: &now},
			state:      "Backlog",
			wantState:  "",
			wantClosed: false,
		},
		{
			name:       "stateless tracker keeps an existing close time",
			got:        &tracker.Issue{ClosedAt: &now},
			state:      "Done",
			wantState:  "",
			wantClosed: true,
		},
		{
			name:       "native workflow passes through",
			got:        &tracker.Issue{State: "NEW"},
			state:      "RESOLVED",
			wantState:  "RESOLVED",
			wantClosed: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTrackerApplier(newFakeTracker(), nil, closed, false)
			want := tt.got.Clone()
			want.State = tt.state
			op := sync.Operation{
				Kind:   sync.OpUpdate,
				Fields: map[string]sync.Value{sync.FieldState: sync.Select(tt.state)},
			}
			a.translateState(tt.got, want, op)
			if want.State != tt.wantState {
				t.Errorf("State = %q, want %q", want.State, tt.wantState)
			}
			if (want.ClosedAt != nil) != tt.wantClosed {
				t.Errorf("ClosedAt set = %v, want %v", want.ClosedAt != nil, tt.wantClosed)
			}
			if tt.wantClosed && tt.got.ClosedAt != nil && want.ClosedAt != tt.got.ClosedAt {
				t.Error("existing close time was rewritten")
			}
		})
	}
}

func TestTrackerApplierDryRun(t *testing.T) {
	tr := newFakeTracker()
	a := newTrackerApplier(tr, nil, []string{"Done"}, true)
	issue := &tracker.Issue{Ref: tracker.IssueRef{Repo: "proj", Number: 7}, Title: "old"}
	op := sync.Operation{
		Kind:        sync.OpUpdate,
		Key:         "fake:proj#7",
		NativeID:    "proj#7",
		Fields:      map[string]sync.Value{sync.FieldTitle: sync.Text("new")},
		Counterpart: &sync.Record{Raw: issue},
	}

	id, err := a.Apply(context.Background(), op)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if id != "proj#7" {
		t.Errorf("id = %q", id)
	}
	if len(tr.updates) != 0 {
		t.Error("dry run wrote to the tracker")
	}
}

func TestTrackerApplierWrapsFailures(t *testing.T) {
	tr := newFakeTracker()
	ref := tracker.IssueRef{Repo: "proj", Number: 9}
	tr.failRef = &ref
	a := newTrackerApplier(tr, nil, nil, false)
	op := sync.Operation{
		Kind:        sync.OpUpdate,
		Key:         "fake:proj#9",
		NativeID:    "proj#9",
		Fields:      map[string]sync.Value{sync.FieldTitle: sync.Text("new")},
		Counterpart: &sync.Record{Raw: &tracker.Issue{Ref: ref}},
	}

	_, err := a.Apply(context.Background(), op)
	applyErr, ok := err.(*sync.ApplyError)
	if !ok {
		t.Fatalf("error type %T, want *sync.ApplyError", err)
	}
	if !applyErr.Transient {
		t.Error("tracker write failure should be transient")
	}
}

func TestTrackerApplierIgnoresCreates(t *testing.T) {
	tr := newFakeTracker()
	a := newTrackerApplier(tr, nil, nil, false)
	op := sync.Operation{Kind: sync.OpCreate, Key: "fake:proj#1"}

	if _, err := a.Apply(context.Background(), op); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(tr.updates) != 0 {
		t.Error("create op reached the tracker")
	}
}
