package sets

import (
	"context"
	"sort"
	"time"

	"github.com/notionsync/notionsync/internal/sync"
	"github.com/notionsync/notionsync/internal/tracker"
)

// trackerApplier pushes planned operations to an issue tracker. Project
// passes never create tracker issues: milestones only sync pages that
// already carry an issue link, so everything is an update.
type trackerApplier struct {
	tr           tracker.IssueTracker
	users        *tracker.UserMap
	closedStates map[string]bool
	dryRun       bool
}

func newTrackerApplier(tr tracker.IssueTracker, users *tracker.UserMap, closedStates []string, dryRun bool) *trackerApplier {
	closed := make(map[string]bool, len(closedStates))
	for _, s := range closedStates {
		closed[s] = true
	}
	return &trackerApplier{tr: tr, users: users, closedStates: closed, dryRun: dryRun}
}

// Apply implements sync.Applier.
func (a *trackerApplier) Apply(ctx context.Context, op sync.Operation) (string, error) {
	if op.Kind != sync.OpUpdate {
		return "", nil
	}
	got, ok := op.Counterpart.Raw.(*tracker.Issue)
	if !ok {
		return "", &sync.ConfigurationError{
			Reason: "tracker record " + string(op.Key) + " carries no fetched issue",
		}
	}
	want := sync.IssueFromOperation(got, op, a.users)
	a.translateState(got, want, op)
	if a.dryRun {
		return op.NativeID, nil
	}
	if err := a.tr.UpdateIssue(ctx, got, want); err != nil {
		// Tracker write failures are retried by the next pass; the diff
		// re-derives the same operation as long as the drift persists.
		return "", &sync.ApplyError{Key: op.Key, Transient: true, Err: err}
	}
	return op.NativeID, nil
}

// translateState converts a workflow state into open/closed terms for
// trackers that have no state of their own (GitHub). Trackers with native
// states (Bugzilla) receive the state name untouched.
func (a *trackerApplier) translateState(got, want *tracker.Issue, op sync.Operation) {
	state, ok := op.Fields[sync.FieldState].(sync.Select)
	if !ok || got.State != "" {
		return
	}
	want.State = ""
	if a.closedStates[string(state)] {
		if got.ClosedAt == nil {
			now := time.Now().UTC()
			want.ClosedAt = &now
		}
	} else {
		want.ClosedAt = nil
	}
}

// issueRecords converts fetched issues into records for one side of a
// pass, deduplicated by ref and sorted for deterministic output.
func issueRecords(trackerName string, issues []*tracker.Issue, users *tracker.UserMap, sprints map[string]*tracker.Sprint, system sync.System) []*sync.Record {
	seen := make(map[tracker.IssueRef]bool, len(issues))
	records := make([]*sync.Record, 0, len(issues))
	for _, issue := range issues {
		if seen[issue.Ref] {
			continue
		}
		seen[issue.Ref] = true
		records = append(records, sync.RecordFromIssue(trackerName, issue, users, sprints))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return markSystem(records, system)
}

// sprintsByID indexes fetched sprints for record conversion.
func sprintsByID(sprints []tracker.Sprint) map[string]*tracker.Sprint {
	byID := make(map[string]*tracker.Sprint, len(sprints))
	for i := range sprints {
		byID[sprints[i].ID] = &sprints[i]
	}
	return byID
}

// linkKeyFunc keys Notion records by the tracker URL stored in their issue
// link property.
func linkKeyFunc(tr tracker.IssueTracker) sync.KeyFunc {
	return sync.KeyFromLink(sync.FieldIssueLink, func(url string) (sync.Key, bool) {
		ref, ok := tr.ParseRef(url)
		if !ok {
			return "", false
		}
		return sync.IssueKey(tr.Name(), ref), true
	})
}
