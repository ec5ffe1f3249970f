package sets

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/notionsync/notionsync/internal/config"
	"github.com/notionsync/notionsync/internal/sync"
	"github.com/notionsync/notionsync/internal/tracker"
)

func TestStateMergeStatelessTracker(t *testing.T) {
	p := &projectSet{cfg: &config.Set{Method: config.MethodGitHubProject}, tr: newFakeTracker()}
	merge := p.stateMerge()
	now := time.Now()

	closedTarget := &sync.Record{Fields: map[string]sync.Value{
		sync.FieldClosedAt: sync.DateRange{Start: &now},
	}}
	openTarget := &sync.Record{Fields: map[string]sync.Value{}}

	tests := []struct {
		name   string
		page   string
		target *sync.Record
		want   sync.Value
	}{
		// Open page status against an open issue: agreement, keep current
		// (nil) so the field never diffs.
		{"open vs open", "In progress", openTarget, nil},
		{"done vs open", "Done", openTarget, sync.Select("Done")},
		{"done vs closed", "Done", closedTarget, nil},
		{"open vs closed", "Backlog", closedTarget, sync.Select("Backlog")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sync.Match{Target: tt.target}
			got := merge(m, sync.Select(tt.page), nil)
			if tt.want == nil {
				if got != nil {
					t.Errorf("merge = %v, want nil", got)
				}
				return
			}
			if got == nil || !got.Equal(tt.want) {
				t.Errorf("merge = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStateMergeNativeWorkflow(t *testing.T) {
	p := &projectSet{cfg: &config.Set{Method: config.MethodBugzillaProject}, tr: newFakeTracker()}
	merge := p.stateMerge()

	// The review state is derived from attachments; pushing ASSIGNED over
	// it would flap every pass.
	got := merge(sync.Match{}, sync.Select("ASSIGNED"), sync.Select("IN REVIEW"))
	if !got.Equal(sync.Select("IN REVIEW")) {
		t.Errorf("merge = %v, want IN REVIEW preserved", got)
	}

	got = merge(sync.Match{}, sync.Select("RESOLVED"), sync.Select("ASSIGNED"))
	if !got.Equal(sync.Select("RESOLVED")) {
		t.Errorf("merge = %v, want RESOLVED", got)
	}
}

func TestCheckSprintMerge(t *testing.T) {
	mkRecord := func(name string, start, end *time.Time) *sync.Record {
		return &sync.Record{
			Key: sync.Key(name),
			Fields: map[string]sync.Value{
				sync.FieldTitle: sync.Text(name),
				sync.FieldDates: sync.DateRange{Start: start, End: end},
			},
		}
	}
	jan1, jan14 := dateAt(2026, 1, 1), dateAt(2026, 1, 14)
	feb1 := dateAt(2026, 2, 1)

	t.Run("matching dates merge", func(t *testing.T) {
		source := []*sync.Record{mkRecord("Sprint 1", jan1, jan14)}
		target := []*sync.Record{mkRecord("Sprint 1", jan1, jan14)}
		if err := checkSprintMerge(source, target); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("empty target dates merge", func(t *testing.T) {
		source := []*sync.Record{mkRecord("Sprint 1", jan1, jan14)}
		target := []*sync.Record{mkRecord("Sprint 1", nil, nil)}
		if err := checkSprintMerge(source, target); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("mismatched dates refuse", func(t *testing.T) {
		source := []*sync.Record{mkRecord("Sprint 1", feb1, nil)}
		target := []*sync.Record{mkRecord("Sprint 1", jan1, jan14)}
		err := checkSprintMerge(source, target)
		var cfgErr *sync.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("error = %v, want ConfigurationError", err)
		}
		if !strings.Contains(cfgErr.Reason, "Sprint 1") {
			t.Errorf("reason %q does not name the sprint", cfgErr.Reason)
		}
	})
}

func TestRepoAllowed(t *testing.T) {
	open := &projectSet{cfg: &config.Set{}}
	if !open.repoAllowed("anything") {
		t.Error("empty repository list should allow all repos")
	}

	scoped := &projectSet{cfg: &config.Set{Repositories: []string{"mozilla/relman"}}}
	if !scoped.repoAllowed("mozilla/relman") {
		t.Error("configured repo rejected")
	}
	if scoped.repoAllowed("mozilla/other") {
		t.Error("unconfigured repo allowed")
	}
}

func TestMilestoneSpecsOptionalFields(t *testing.T) {
	base := &config.Set{Method: config.MethodGitHubProject}

	t.Run("no extra label spec by default", func(t *testing.T) {
		p := &projectSet{cfg: base, tr: newFakeTracker(), users: nil}
		if _, ok := p.milestoneSpecs().Field(sync.FieldLabels); ok {
			t.Error("labels spec present without an extra label")
		}
	})

	t.Run("extra label enables the labels spec", func(t *testing.T) {
		cfg := *base
		cfg.MilestonesExtraLabel = "tracked"
		p := &projectSet{cfg: &cfg, tr: newFakeTracker()}
		if _, ok := p.milestoneSpecs().Field(sync.FieldLabels); !ok {
			t.Error("labels spec missing")
		}
	})

	t.Run("backlink only for bugzilla", func(t *testing.T) {
		gh := &projectSet{cfg: base, tr: newFakeTracker()}
		if _, ok := gh.milestoneSpecs().Field(sync.FieldNotionURL); ok {
			t.Error("stateless tracker got a notion_url spec")
		}

		bz := &projectSet{cfg: base, tr: &fakeTracker{name: "bugzilla", issues: map[tracker.IssueRef]*tracker.Issue{}}}
		if _, ok := bz.milestoneSpecs().Field(sync.FieldNotionURL); !ok {
			t.Error("bugzilla missing the notion_url spec")
		}
	})

	t.Run("body sync modes", func(t *testing.T) {
		cfg := *base
		cfg.MilestonesBodySyncIfEmpty = true
		p := &projectSet{cfg: &cfg, tr: newFakeTracker()}
		spec, ok := p.milestoneSpecs().Field(sync.FieldBody)
		if !ok {
			t.Fatal("body spec missing")
		}
		if spec.Merge == nil {
			t.Error("if-empty mode should carry a merge rule")
		}
	})
}
