package bugzilla

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/notionsync/notionsync/internal/tracker"
)

func configuredTracker(t *testing.T, handler http.HandlerFunc) *Tracker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tr := &Tracker{}
	cfg := tracker.NewConfig(context.Background(), "bugzilla", tracker.MapStore{
		"bugzilla.api_key":  "test-key",
		"bugzilla.base_url": srv.URL,
	})
	if err := tr.Configure(cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	// The test server's host is not the Mozilla instance, so fix the ref
	// host for deterministic assertions.
	tr.host = "bugzilla.mozilla.org"
	return tr
}

func TestParseRef(t *testing.T) {
	tr := &Tracker{host: "bugzilla.mozilla.org"}
	tests := []struct {
		name string
		url  string
		want tracker.IssueRef
		ok   bool
	}{
		{"show_bug", "https://bugzilla.mozilla.org/show_bug.cgi?id=1234", tracker.IssueRef{Repo: "bugzilla.mozilla.org", Number: 1234}, true},
		{"short link", "https://bugzil.la/1234", tracker.IssueRef{Repo: "bugzilla.mozilla.org", Number: 1234}, true},
		{"other host", "https://bugs.example.org/show_bug.cgi?id=1", tracker.IssueRef{}, false},
		{"github url", "https://github.com/o/r/issues/1", tracker.IssueRef{}, false},
		{"no id", "https://bugzilla.mozilla.org/show_bug.cgi", tracker.IssueRef{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tr.ParseRef(tt.url)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseRef(%q) = %v, %v; want %v, %v", tt.url, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRefURL(t *testing.T) {
	tr := &Tracker{}
	if got := tr.RefURL(tracker.IssueRef{Repo: "bugzilla.mozilla.org", Number: 42}); got != "https://bugzil.la/42" {
		t.Errorf("RefURL = %q", got)
	}
	tr.host = "bugs.example.org"
	if got := tr.RefURL(tracker.IssueRef{Repo: "bugs.example.org", Number: 42}); got != "https://bugs.example.org/show_bug.cgi?id=42" {
		t.Errorf("RefURL = %q", got)
	}
}

func TestToIssue(t *testing.T) {
	tr := &Tracker{host: "bugzilla.mozilla.org"}
	dupe := 99
	bug := &Bug{
		ID:           1234,
		Summary:      "Crash on startup",
		Status:       "RESOLVED",
		Resolution:   "FIXED",
		Priority:     "P2",
		Type:         "defect",
		Keywords:     []string{"crash", "regression"},
		Whiteboard:   "[tb-triage]",
		AssignedTo:   "dev@example.com",
		UserStory:    "As a user...",
		SeeAlso:      []string{"https://example.com/x", "https://www.notion.so/page-abc"},
		DupeOf:       &dupe,
		Blocks:       []int{1000},
		DependsOn:    []int{1300},
		CreationTime: "2026-01-02T10:00:00Z",
		LastResolved: "2026-02-01T12:00:00Z",
	}

	issue := tr.toIssue(bug)
	if issue.Ref != (tracker.IssueRef{Repo: "bugzilla.mozilla.org", Number: 1234}) {
		t.Errorf("Ref = %v", issue.Ref)
	}
	if issue.State != "RESOLVED" || issue.Resolution != "FIXED" {
		t.Errorf("State/Resolution = %q/%q", issue.State, issue.Resolution)
	}
	if issue.ClosedAt == nil || !issue.ClosedAt.Equal(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("ClosedAt = %v", issue.ClosedAt)
	}
	if issue.NotionURL != "https://www.notion.so/page-abc" {
		t.Errorf("NotionURL = %q", issue.NotionURL)
	}
	if issue.DuplicateOf == nil || issue.DuplicateOf.Number != 99 {
		t.Errorf("DuplicateOf = %v", issue.DuplicateOf)
	}
	if len(issue.Parents) != 1 || issue.Parents[0].Number != 1000 {
		t.Errorf("Parents = %v", issue.Parents)
	}
	if issue.URL != "https://bugzil.la/1234" {
		t.Errorf("URL = %q", issue.URL)
	}
}

func TestToIssueUnassignedAndPlaceholderPriority(t *testing.T) {
	tr := &Tracker{host: "bugzilla.mozilla.org"}
	issue := tr.toIssue(&Bug{ID: 1, Status: "NEW", Priority: "--", AssignedTo: UnassignedMailbox})
	if len(issue.Assignees) != 0 {
		t.Errorf("Assignees = %v, want none for nobody@", issue.Assignees)
	}
	if issue.Priority != "" {
		t.Errorf("Priority = %q, want empty for --", issue.Priority)
	}
	if issue.ClosedAt != nil {
		t.Errorf("ClosedAt = %v for open bug", issue.ClosedAt)
	}
}

func TestToIssueReviewState(t *testing.T) {
	tr := &Tracker{host: "bugzilla.mozilla.org"}
	reviewURL := "https://phabricator.services.mozilla.com/D12345"
	bug := &Bug{
		ID:         2,
		Status:     "ASSIGNED",
		AssignedTo: "dev@example.com",
		Attachments: []Attachment{
			{ContentType: "text/plain", Data: base64.StdEncoding.EncodeToString([]byte("log"))},
			{ContentType: phabContentType, IsObsolete: 1, Data: base64.StdEncoding.EncodeToString([]byte("https://old"))},
			{ContentType: phabContentType, Data: base64.StdEncoding.EncodeToString([]byte(reviewURL))},
		},
	}
	issue := tr.toIssue(bug)
	if issue.State != StateInReview {
		t.Errorf("State = %q, want %q", issue.State, StateInReview)
	}
	if issue.ReviewURL != reviewURL {
		t.Errorf("ReviewURL = %q", issue.ReviewURL)
	}
}

func TestBugChanges(t *testing.T) {
	base := &tracker.Issue{
		Ref:       tracker.IssueRef{Repo: "bugzilla.mozilla.org", Number: 7},
		Title:     "old summary",
		State:     "NEW",
		Priority:  "P3",
		Labels:    []string{"meta"},
		Assignees: []string{"dev@example.com"},
		NotionURL: "https://www.notion.so/old",
	}

	t.Run("no changes", func(t *testing.T) {
		if changes := bugChanges(base, base.Clone()); len(changes) != 0 {
			t.Errorf("changes = %v, want empty", changes)
		}
	})

	t.Run("resolve sets resolution fixed", func(t *testing.T) {
		want := base.Clone()
		want.State = "RESOLVED"
		changes := bugChanges(base, want)
		if changes["status"] != "RESOLVED" || changes["resolution"] != "FIXED" {
			t.Errorf("changes = %v", changes)
		}
	})

	t.Run("reopen clears resolution", func(t *testing.T) {
		closed := base.Clone()
		closed.State = "RESOLVED"
		want := base.Clone()
		want.State = "REOPENED"
		changes := bugChanges(closed, want)
		if changes["status"] != "REOPENED" || changes["resolution"] != "" {
			t.Errorf("changes = %v", changes)
		}
	})

	t.Run("review state does not fight assigned", func(t *testing.T) {
		inReview := base.Clone()
		inReview.State = StateInReview
		want := base.Clone()
		want.State = "ASSIGNED"
		if changes := bugChanges(inReview, want); len(changes) != 0 {
			t.Errorf("changes = %v, want empty", changes)
		}
	})

	t.Run("notion url moves through see_also", func(t *testing.T) {
		want := base.Clone()
		want.NotionURL = "https://www.notion.so/new"
		changes := bugChanges(base, want)
		seeAlso, ok := changes["see_also"].(map[string]any)
		if !ok {
			t.Fatalf("see_also = %v", changes["see_also"])
		}
		if add := seeAlso["add"].([]string); len(add) != 1 || add[0] != "https://www.notion.so/new" {
			t.Errorf("add = %v", add)
		}
		if remove := seeAlso["remove"].([]string); len(remove) != 1 || remove[0] != "https://www.notion.so/old" {
			t.Errorf("remove = %v", remove)
		}
	})

	t.Run("keywords as add remove delta", func(t *testing.T) {
		want := base.Clone()
		want.Labels = []string{"meta", "crash"}
		changes := bugChanges(base, want)
		kw := changes["keywords"].(map[string]any)
		if add := kw["add"].([]string); len(add) != 1 || add[0] != "crash" {
			t.Errorf("add = %v", add)
		}
		if remove := kw["remove"].([]string); len(remove) != 0 {
			t.Errorf("remove = %v", remove)
		}
	})

	t.Run("unassign writes nobody", func(t *testing.T) {
		want := base.Clone()
		want.Assignees = nil
		changes := bugChanges(base, want)
		if changes["assigned_to"] != UnassignedMailbox {
			t.Errorf("assigned_to = %v", changes["assigned_to"])
		}
	})
}

func TestFetchIssuesBatchesIDs(t *testing.T) {
	tr := configuredTracker(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/bug" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-BUGZILLA-API-KEY"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		if ids := r.URL.Query().Get("id"); ids != "1,2" {
			t.Errorf("id param = %q", ids)
		}
		writeJSON(w, map[string]any{"bugs": []Bug{
			{ID: 1, Summary: "first", Status: "NEW"},
		}})
	})

	refs := []tracker.IssueRef{
		{Repo: "bugzilla.mozilla.org", Number: 1},
		{Repo: "bugzilla.mozilla.org", Number: 2},
	}
	issues, err := tr.FetchIssues(context.Background(), refs)
	if err != nil {
		t.Fatalf("FetchIssues: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1: missing bugs are skipped", len(issues))
	}
	if issues[refs[0]].Title != "first" {
		t.Errorf("issue = %+v", issues[refs[0]])
	}
}

func TestSearchBugsPaginates(t *testing.T) {
	pageOne := make([]Bug, DefaultPageLimit)
	for i := range pageOne {
		pageOne[i] = Bug{ID: i + 1, Status: "NEW"}
	}
	tr := configuredTracker(t, func(w http.ResponseWriter, r *http.Request) {
		if products := r.URL.Query()["product"]; len(products) != 1 || products[0] != "Thunderbird" {
			t.Errorf("product params = %v", products)
		}
		switch r.URL.Query().Get("offset") {
		case "0":
			writeJSON(w, map[string]any{"bugs": pageOne})
		case "100":
			writeJSON(w, map[string]any{"bugs": []Bug{{ID: 101, Status: "NEW"}}})
		default:
			t.Errorf("unexpected offset %q", r.URL.Query().Get("offset"))
		}
	})

	issues, err := tr.FetchRepoIssues(context.Background(), "Thunderbird", tracker.FetchOptions{
		States: []string{"NEW", "ASSIGNED"},
	})
	if err != nil {
		t.Fatalf("FetchRepoIssues: %v", err)
	}
	if len(issues) != 101 {
		t.Errorf("got %d issues, want 101", len(issues))
	}
}

func TestUpdateIssueNoopSendsNothing(t *testing.T) {
	tr := configuredTracker(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})
	issue := &tracker.Issue{Ref: tracker.IssueRef{Repo: "bugzilla.mozilla.org", Number: 9}, Title: "same"}
	if err := tr.UpdateIssue(context.Background(), issue, issue.Clone()); err != nil {
		t.Fatalf("UpdateIssue: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
