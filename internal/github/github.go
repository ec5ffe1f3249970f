package github

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/notionsync/notionsync/internal/tracker"
)

func init() {
	tracker.Register("github", func() tracker.IssueTracker {
		return &Tracker{}
	})
}

// Tracker adapts the REST client to the tracker plugin interface.
type Tracker struct {
	client *Client
}

// Name returns the tracker identifier.
func (t *Tracker) Name() string { return "github" }

// DisplayName returns the human-friendly name.
func (t *Tracker) DisplayName() string { return "GitHub" }

// ConfigPrefix returns the config key prefix.
func (t *Tracker) ConfigPrefix() string { return "github" }

// Configure reads the token and optional endpoint override.
func (t *Tracker) Configure(cfg *tracker.Config) error {
	token, err := cfg.GetRequired(tracker.CommonConfig.Token)
	if err != nil {
		return err
	}
	t.client = NewClient(token)
	if baseURL, _ := cfg.Get(tracker.CommonConfig.BaseURL); baseURL != "" {
		t.client = t.client.WithBaseURL(strings.TrimSuffix(baseURL, "/"))
	}
	return nil
}

// Client exposes the underlying REST client for tests.
func (t *Tracker) Client() *Client { return t.client }

func (t *Tracker) ensureConfigured() error {
	if t.client == nil {
		return &tracker.ErrNotConfigured{Tracker: "github", Key: "token"}
	}
	return nil
}

// Validate checks the token against the /user endpoint.
func (t *Tracker) Validate(ctx context.Context) error {
	if err := t.ensureConfigured(); err != nil {
		return err
	}
	if _, err := t.client.Viewer(ctx); err != nil {
		return fmt.Errorf("github credentials rejected: %w", err)
	}
	return nil
}

// IsExternalRef reports whether the URL names a GitHub issue.
func (t *Tracker) IsExternalRef(url string) bool {
	_, ok := ParseIssueURL(url)
	return ok
}

// ParseRef extracts a ref from a GitHub issue URL.
func (t *Tracker) ParseRef(url string) (tracker.IssueRef, bool) {
	return ParseIssueURL(url)
}

// RefURL renders the canonical web URL for a ref.
func (t *Tracker) RefURL(ref tracker.IssueRef) string {
	return IssueURL(ref)
}

// FetchIssues retrieves the given issues one by one. Missing issues are
// absent from the result, not an error, so one deleted issue cannot fail a
// whole pass.
func (t *Tracker) FetchIssues(ctx context.Context, refs []tracker.IssueRef) (map[tracker.IssueRef]*tracker.Issue, error) {
	if err := t.ensureConfigured(); err != nil {
		return nil, err
	}
	out := make(map[tracker.IssueRef]*tracker.Issue, len(refs))
	for _, ref := range refs {
		gh, err := t.client.GetIssue(ctx, ref.Repo, ref.Number)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out[ref] = toIssue(ref.Repo, gh)
	}
	return out, nil
}

// FetchRepoIssues retrieves issues from one repository.
func (t *Tracker) FetchRepoIssues(ctx context.Context, repo string, opts tracker.FetchOptions) ([]*tracker.Issue, error) {
	if err := t.ensureConfigured(); err != nil {
		return nil, err
	}
	state := ""
	if len(opts.States) == 1 {
		state = opts.States[0]
	}
	raw, err := t.client.ListRepoIssues(ctx, repo, state, opts.ActiveSince)
	if err != nil {
		return nil, err
	}
	issues := make([]*tracker.Issue, 0, len(raw))
	for i := range raw {
		issues = append(issues, toIssue(repo, &raw[i]))
		if opts.Limit > 0 && len(issues) >= opts.Limit {
			break
		}
	}
	return issues, nil
}

// FetchSubIssues retrieves the children of an issue, implementing
// tracker.HierarchySource. Children inherit the parent in Parents so key
// resolution can relate them without another fetch.
func (t *Tracker) FetchSubIssues(ctx context.Context, ref tracker.IssueRef) ([]*tracker.Issue, error) {
	if err := t.ensureConfigured(); err != nil {
		return nil, err
	}
	raw, err := t.client.ListSubIssues(ctx, ref.Repo, ref.Number)
	if err != nil {
		return nil, err
	}
	issues := make([]*tracker.Issue, 0, len(raw))
	for i := range raw {
		issue := toIssue("", &raw[i])
		issue.Parents = []tracker.IssueRef{ref}
		issues = append(issues, issue)
	}
	return issues, nil
}

// UpdateIssue patches only the fields where got and want differ.
func (t *Tracker) UpdateIssue(ctx context.Context, got, want *tracker.Issue) error {
	if err := t.ensureConfigured(); err != nil {
		return err
	}
	updates := issueUpdates(got, want)
	if len(updates) == 0 {
		return nil
	}
	_, err := t.client.PatchIssue(ctx, got.Ref.Repo, got.Ref.Number, updates)
	return err
}

// FetchSprints retrieves the iterations of the repository's project sprint
// fields. Completed iterations are past sprints; active iterations are
// current or future depending on their start date.
func (t *Tracker) FetchSprints(ctx context.Context, scope string) ([]tracker.Sprint, error) {
	if err := t.ensureConfigured(); err != nil {
		return nil, err
	}
	set, err := t.client.ListSprintIterations(ctx, scope)
	if err != nil {
		return nil, err
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	sprints := make([]tracker.Sprint, 0, len(set.Active)+len(set.Completed))
	for _, it := range set.Active {
		status := tracker.SprintCurrent
		start, end, err := it.dates()
		if err != nil {
			return nil, err
		}
		if start.After(today) {
			status = tracker.SprintFuture
		}
		sprints = append(sprints, tracker.Sprint{
			ID: it.ID, Name: it.Title, Status: status, StartDate: &start, EndDate: &end,
		})
	}
	for _, it := range set.Completed {
		start, end, err := it.dates()
		if err != nil {
			return nil, err
		}
		sprints = append(sprints, tracker.Sprint{
			ID: it.ID, Name: it.Title, Status: tracker.SprintPast, StartDate: &start, EndDate: &end,
		})
	}
	return sprints, nil
}

var (
	_ tracker.IssueTracker    = (*Tracker)(nil)
	_ tracker.HierarchySource = (*Tracker)(nil)
)
