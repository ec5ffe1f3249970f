package bugzilla

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/notionsync/notionsync/internal/tracker"
)

const (
	// DefaultBaseURL is the Mozilla instance most configurations target.
	DefaultBaseURL = "https://bugzilla.mozilla.org"

	// UnassignedMailbox is Bugzilla's placeholder assignee.
	UnassignedMailbox = "nobody@mozilla.org"

	// phabContentType marks Phabricator review request attachments.
	phabContentType = "text/x-phabricator-request"

	// StateInReview is a synthetic workflow state for assigned bugs that
	// have an open review. Bugzilla has no such status of its own.
	StateInReview = "IN REVIEW"
)

func init() {
	tracker.Register("bugzilla", func() tracker.IssueTracker {
		return &Tracker{}
	})
}

// Tracker adapts the REST client to the tracker plugin interface.
type Tracker struct {
	client  *Client
	baseURL string
	host    string
}

// Name returns the tracker identifier.
func (t *Tracker) Name() string { return "bugzilla" }

// DisplayName returns the human-friendly name.
func (t *Tracker) DisplayName() string { return "Bugzilla" }

// ConfigPrefix returns the config key prefix.
func (t *Tracker) ConfigPrefix() string { return "bugzilla" }

// Configure reads the API key and instance URL. The key is required even
// for public instances so security-sensitive bugs resolve consistently.
func (t *Tracker) Configure(cfg *tracker.Config) error {
	apiKey, err := cfg.GetRequired("api_key")
	if err != nil {
		return err
	}
	baseURL, _ := cfg.Get(tracker.CommonConfig.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("bugzilla: invalid base_url %q", baseURL)
	}
	t.baseURL = baseURL
	t.host = parsed.Host
	t.client = NewClient(baseURL, apiKey)
	return nil
}

// Client exposes the underlying REST client for tests.
func (t *Tracker) Client() *Client { return t.client }

func (t *Tracker) ensureConfigured() error {
	if t.client == nil {
		return &tracker.ErrNotConfigured{Tracker: "bugzilla", Key: "api_key"}
	}
	return nil
}

// Validate checks credentials against the /whoami endpoint.
func (t *Tracker) Validate(ctx context.Context) error {
	if err := t.ensureConfigured(); err != nil {
		return err
	}
	if _, err := t.client.Whoami(ctx); err != nil {
		return fmt.Errorf("bugzilla credentials rejected: %w", err)
	}
	return nil
}

// IsExternalRef reports whether the URL names a bug on this instance.
func (t *Tracker) IsExternalRef(rawURL string) bool {
	_, ok := t.ParseRef(rawURL)
	return ok
}

// ParseRef extracts a ref from a show_bug.cgi URL or a bugzil.la short
// link. The repo half of the ref is the instance host.
func (t *Tracker) ParseRef(rawURL string) (tracker.IssueRef, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return tracker.IssueRef{}, false
	}
	host := t.host
	if host == "" {
		host = "bugzilla.mozilla.org"
	}

	switch {
	case parsed.Host == host && parsed.Path == "/show_bug.cgi":
		id, err := strconv.Atoi(parsed.Query().Get("id"))
		if err != nil || id <= 0 {
			return tracker.IssueRef{}, false
		}
		return tracker.IssueRef{Repo: host, Number: id}, true
	case parsed.Host == "bugzil.la" && host == "bugzilla.mozilla.org":
		id, err := strconv.Atoi(strings.Trim(parsed.Path, "/"))
		if err != nil || id <= 0 {
			return tracker.IssueRef{}, false
		}
		return tracker.IssueRef{Repo: host, Number: id}, true
	}
	return tracker.IssueRef{}, false
}

// RefURL renders the canonical web URL for a ref. The Mozilla instance gets
// the bugzil.la short form.
func (t *Tracker) RefURL(ref tracker.IssueRef) string {
	if ref.Repo == "bugzilla.mozilla.org" {
		return "https://bugzil.la/" + strconv.Itoa(ref.Number)
	}
	return "https://" + ref.Repo + "/show_bug.cgi?id=" + strconv.Itoa(ref.Number)
}

// FetchIssues retrieves the given bugs in one batched call. Missing or
// inaccessible bugs are absent from the result, not an error.
func (t *Tracker) FetchIssues(ctx context.Context, refs []tracker.IssueRef) (map[tracker.IssueRef]*tracker.Issue, error) {
	if err := t.ensureConfigured(); err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.Number)
	}
	bugs, err := t.client.GetBugs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[tracker.IssueRef]*tracker.Issue, len(bugs))
	for i := range bugs {
		issue := t.toIssue(&bugs[i])
		out[issue.Ref] = issue
	}
	return out, nil
}

// FetchRepoIssues runs an advanced search scoped to one or more products.
// repo carries the product list, comma-separated, because Bugzilla has no
// repository concept of its own.
func (t *Tracker) FetchRepoIssues(ctx context.Context, repo string, opts tracker.FetchOptions) ([]*tracker.Issue, error) {
	if err := t.ensureConfigured(); err != nil {
		return nil, err
	}
	q := SearchQuery{
		Statuses:    opts.States,
		ActiveSince: opts.ActiveSince,
		Limit:       opts.Limit,
	}
	for _, product := range strings.Split(repo, ",") {
		if product = strings.TrimSpace(product); product != "" {
			q.Products = append(q.Products, product)
		}
	}
	bugs, err := t.client.SearchBugs(ctx, q)
	if err != nil {
		return nil, err
	}
	issues := make([]*tracker.Issue, 0, len(bugs))
	for i := range bugs {
		issues = append(issues, t.toIssue(&bugs[i]))
	}
	return issues, nil
}

// FetchSubIssues returns the bugs this bug depends on, implementing
// tracker.HierarchySource.
func (t *Tracker) FetchSubIssues(ctx context.Context, ref tracker.IssueRef) ([]*tracker.Issue, error) {
	if err := t.ensureConfigured(); err != nil {
		return nil, err
	}
	parents, err := t.client.GetBugs(ctx, []int{ref.Number})
	if err != nil {
		return nil, err
	}
	if len(parents) == 0 {
		return nil, nil
	}
	bugs, err := t.client.GetBugs(ctx, parents[0].DependsOn)
	if err != nil {
		return nil, err
	}
	issues := make([]*tracker.Issue, 0, len(bugs))
	for i := range bugs {
		issue := t.toIssue(&bugs[i])
		issue.Parents = []tracker.IssueRef{ref}
		issues = append(issues, issue)
	}
	return issues, nil
}

// UpdateIssue writes only the fields where got and want differ, in the REST
// update shape. Closing sets resolution FIXED; reopening clears it.
func (t *Tracker) UpdateIssue(ctx context.Context, got, want *tracker.Issue) error {
	if err := t.ensureConfigured(); err != nil {
		return err
	}
	changes := bugChanges(got, want)
	if len(changes) == 0 {
		return nil
	}
	return t.client.UpdateBug(ctx, got.Ref.Number, changes)
}

// FetchSprints returns nil: Bugzilla has no iteration concept.
func (t *Tracker) FetchSprints(ctx context.Context, scope string) ([]tracker.Sprint, error) {
	return nil, nil
}

// toIssue converts a bug into the tracker-neutral model.
func (t *Tracker) toIssue(bug *Bug) *tracker.Issue {
	host := t.host
	if host == "" {
		host = "bugzilla.mozilla.org"
	}
	ref := tracker.IssueRef{Repo: host, Number: bug.ID}

	issue := &tracker.Issue{
		Ref:        ref,
		Title:      bug.Summary,
		Body:       bug.UserStory,
		State:      bug.Status,
		Resolution: bug.Resolution,
		Type:       bug.Type,
		Labels:     append([]string(nil), bug.Keywords...),
		Whiteboard: bug.Whiteboard,
		Product:    bug.Product,
		Component:  bug.Component,
		Version:    bug.Version,
		URL:        t.RefURL(ref),
		CreatedAt:  parseTime(bug.CreationTime),
	}
	if bug.Priority != "" && bug.Priority != "--" {
		issue.Priority = bug.Priority
	}
	if bug.AssignedTo != "" && bug.AssignedTo != UnassignedMailbox {
		issue.Assignees = []string{bug.AssignedTo}
	}
	if closed := parseTime(bug.LastResolved); closed != nil && isClosedStatus(bug.Status) {
		issue.ClosedAt = closed
	}
	if bug.DupeOf != nil {
		dup := tracker.IssueRef{Repo: host, Number: *bug.DupeOf}
		issue.DuplicateOf = &dup
	}
	for _, id := range bug.Blocks {
		issue.Parents = append(issue.Parents, tracker.IssueRef{Repo: host, Number: id})
	}
	for _, id := range bug.DependsOn {
		issue.SubIssues = append(issue.SubIssues, tracker.IssueRef{Repo: host, Number: id})
	}
	for _, seeAlso := range bug.SeeAlso {
		if strings.HasPrefix(seeAlso, "https://www.notion.so/") {
			issue.NotionURL = seeAlso
			break
		}
	}
	if reviewURL := phabReviewURL(bug.Attachments); reviewURL != "" {
		issue.ReviewURL = reviewURL
		if bug.Status == "ASSIGNED" || bug.Status == "REOPENED" {
			issue.State = StateInReview
		}
	}
	return issue
}

// bugChanges builds the PUT body covering only the fields where got and
// want differ.
func bugChanges(got, want *tracker.Issue) map[string]any {
	changes := make(map[string]any)
	if want.Title != "" && want.Title != got.Title {
		changes["summary"] = want.Title
	}
	if want.Priority != "" && want.Priority != got.Priority {
		changes["priority"] = want.Priority
	}
	if want.Body != got.Body {
		changes["cf_user_story"] = want.Body
	}

	gotState := got.State
	if gotState == StateInReview {
		gotState = "ASSIGNED"
	}
	if want.State != "" && want.State != gotState && want.State != got.State {
		changes["status"] = want.State
		if want.State == "RESOLVED" && gotState != "RESOLVED" {
			changes["resolution"] = "FIXED"
		} else if gotState == "RESOLVED" && want.State != "RESOLVED" {
			changes["resolution"] = ""
		}
	}

	gotAssignee := firstOrEmpty(got.Assignees)
	wantAssignee := firstOrEmpty(want.Assignees)
	if gotAssignee != wantAssignee {
		if wantAssignee == "" {
			changes["assigned_to"] = UnassignedMailbox
		} else {
			changes["assigned_to"] = wantAssignee
		}
	}

	if want.NotionURL != "" && want.NotionURL != got.NotionURL {
		seeAlso := map[string]any{"add": []string{want.NotionURL}}
		if got.NotionURL != "" {
			seeAlso["remove"] = []string{got.NotionURL}
		}
		changes["see_also"] = seeAlso
	}

	if !labelSetEqual(got.Labels, want.Labels) {
		add, remove := labelDelta(got.Labels, want.Labels)
		changes["keywords"] = map[string]any{"add": add, "remove": remove}
	}

	if want.Whiteboard != got.Whiteboard {
		changes["whiteboard"] = want.Whiteboard
	}
	return changes
}

func firstOrEmpty(handles []string) string {
	if len(handles) == 0 {
		return ""
	}
	return handles[0]
}

func labelSetEqual(a, b []string) bool {
	add, remove := labelDelta(a, b)
	return len(add) == 0 && len(remove) == 0
}

// labelDelta computes the keywords to add and remove to turn got into want.
func labelDelta(got, want []string) (add, remove []string) {
	gotSet := make(map[string]bool, len(got))
	for _, l := range got {
		gotSet[l] = true
	}
	wantSet := make(map[string]bool, len(want))
	for _, l := range want {
		wantSet[l] = true
		if !gotSet[l] {
			add = append(add, l)
		}
	}
	for _, l := range got {
		if !wantSet[l] {
			remove = append(remove, l)
		}
	}
	return add, remove
}

func isClosedStatus(status string) bool {
	return status == "RESOLVED" || status == "VERIFIED" || status == "CLOSED"
}

// phabReviewURL extracts the review URL from the first live Phabricator
// attachment. The attachment data is the base64-encoded URL.
func phabReviewURL(attachments []Attachment) string {
	for _, att := range attachments {
		if att.IsObsolete != 0 || att.ContentType != phabContentType {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(att.Data)
		if err != nil {
			continue
		}
		return strings.TrimSpace(string(decoded))
	}
	return ""
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

var (
	_ tracker.IssueTracker    = (*Tracker)(nil)
	_ tracker.HierarchySource = (*Tracker)(nil)
)
