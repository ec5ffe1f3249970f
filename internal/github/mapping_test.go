package github

import (
	"testing"
	"time"

	"github.com/notionsync/notionsync/internal/tracker"
)

func TestParseIssueURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want tracker.IssueRef
		ok   bool
	}{
		{"canonical", "https://github.com/mozilla/gecko/issues/42", tracker.IssueRef{Repo: "mozilla/gecko", Number: 42}, true},
		{"trailing slash", "https://github.com/mozilla/gecko/issues/42/", tracker.IssueRef{Repo: "mozilla/gecko", Number: 42}, true},
		{"pull request", "https://github.com/mozilla/gecko/pull/42", tracker.IssueRef{}, false},
		{"bugzilla url", "https://bugzilla.mozilla.org/show_bug.cgi?id=42", tracker.IssueRef{}, false},
		{"not a url", "mozilla/gecko#42", tracker.IssueRef{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseIssueURL(tt.url)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseIssueURL(%q) = %v, %v; want %v, %v", tt.url, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestIssueURLRoundTrip(t *testing.T) {
	ref := tracker.IssueRef{Repo: "mozilla/gecko", Number: 7}
	back, ok := ParseIssueURL(IssueURL(ref))
	if !ok || back != ref {
		t.Errorf("round trip = %v, %v", back, ok)
	}
}

func TestPriorityFromLabels(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{"p1", []string{"regression", "P1"}, "P1"},
		{"lowercase", []string{"p3"}, "P3"},
		{"none", []string{"bug", "papercut"}, ""},
		{"out of range", []string{"P9"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := priorityFromLabels(tt.labels); got != tt.want {
				t.Errorf("priorityFromLabels(%v) = %q, want %q", tt.labels, got, tt.want)
			}
		})
	}
}

func TestToIssueDerivesRepoFromAPIURL(t *testing.T) {
	gh := &Issue{
		Number:        3,
		Title:         "child",
		RepositoryURL: "https://api.github.com/repos/mozilla/gecko",
	}
	issue := toIssue("", gh)
	want := tracker.IssueRef{Repo: "mozilla/gecko", Number: 3}
	if issue.Ref != want {
		t.Errorf("Ref = %v, want %v", issue.Ref, want)
	}
	if issue.URL != "https://github.com/mozilla/gecko/issues/3" {
		t.Errorf("URL = %q", issue.URL)
	}
}

func TestIssueUpdates(t *testing.T) {
	closed := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	got := &tracker.Issue{
		Ref:       tracker.IssueRef{Repo: "o/r", Number: 1},
		Title:     "old title",
		Body:      "body",
		Labels:    []string{"bug", "P2"},
		Assignees: []string{"alice"},
	}

	t.Run("no changes is empty", func(t *testing.T) {
		if updates := issueUpdates(got, got.Clone()); len(updates) != 0 {
			t.Errorf("updates = %v, want empty", updates)
		}
	})

	t.Run("label order does not count as a change", func(t *testing.T) {
		want := got.Clone()
		want.Labels = []string{"P2", "bug"}
		if updates := issueUpdates(got, want); len(updates) != 0 {
			t.Errorf("updates = %v, want empty", updates)
		}
	})

	t.Run("only differing fields appear", func(t *testing.T) {
		want := got.Clone()
		want.Title = "new title"
		want.ClosedAt = &closed
		updates := issueUpdates(got, want)
		if updates["title"] != "new title" {
			t.Errorf("title update = %v", updates["title"])
		}
		if updates["state"] != "closed" || updates["state_reason"] != "completed" {
			t.Errorf("state updates = %v", updates)
		}
		if _, ok := updates["body"]; ok {
			t.Error("body appeared in updates without changing")
		}
	})

	t.Run("empty desired title never overwrites", func(t *testing.T) {
		want := got.Clone()
		want.Title = ""
		if _, ok := issueUpdates(got, want)["title"]; ok {
			t.Error("empty title was sent as an update")
		}
	})

	t.Run("reopen clears state", func(t *testing.T) {
		closedIssue := got.Clone()
		closedIssue.ClosedAt = &closed
		updates := issueUpdates(closedIssue, got.Clone())
		if updates["state"] != "open" {
			t.Errorf("state = %v, want open", updates["state"])
		}
	})
}
