package github

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/notionsync/notionsync/internal/tracker"
)

// issueURLPattern matches canonical GitHub issue URLs.
var issueURLPattern = regexp.MustCompile(`^https://github\.com/([^/]+/[^/#]+)/issues/(\d+)$`)

// ParseIssueURL extracts a ref from a GitHub issue URL.
func ParseIssueURL(url string) (tracker.IssueRef, bool) {
	m := issueURLPattern.FindStringSubmatch(strings.TrimSuffix(url, "/"))
	if m == nil {
		return tracker.IssueRef{}, false
	}
	number, err := strconv.Atoi(m[2])
	if err != nil {
		return tracker.IssueRef{}, false
	}
	return tracker.IssueRef{Repo: m[1], Number: number}, true
}

// IssueURL renders the canonical web URL for a ref.
func IssueURL(ref tracker.IssueRef) string {
	return "https://github.com/" + ref.Repo + "/issues/" + strconv.Itoa(ref.Number)
}

// repoFromAPIURL derives "owner/name" from a repository_url field.
func repoFromAPIURL(apiURL string) string {
	i := strings.Index(apiURL, "/repos/")
	if i < 0 {
		return ""
	}
	return apiURL[i+len("/repos/"):]
}

// priorityFromLabels extracts a priority name from shorthand labels
// (P1..P5). Empty when no priority label is present; the diff layer treats
// that as "tracker has no opinion".
func priorityFromLabels(labels []string) string {
	for _, name := range labels {
		upper := strings.ToUpper(name)
		if len(upper) == 2 && upper[0] == 'P' && upper[1] >= '1' && upper[1] <= '5' {
			return upper
		}
	}
	return ""
}

// toIssue converts the REST representation into the tracker-neutral model.
// GitHub has no workflow state beyond open/closed, so State stays empty and
// ClosedAt carries the signal.
func toIssue(repo string, gh *Issue) *tracker.Issue {
	if repo == "" {
		repo = repoFromAPIURL(gh.RepositoryURL)
	}
	labels := gh.LabelNames()
	issue := &tracker.Issue{
		Ref:       tracker.IssueRef{Repo: repo, Number: gh.Number},
		Title:     gh.Title,
		Body:      gh.Body,
		Priority:  priorityFromLabels(labels),
		Assignees: gh.AssigneeLogins(),
		Labels:    labels,
		URL:       gh.HTMLURL,
		CreatedAt: gh.CreatedAt,
		ClosedAt:  gh.ClosedAt,
	}
	if gh.Type != nil {
		issue.Type = gh.Type.Name
	}
	if issue.URL == "" {
		issue.URL = IssueURL(issue.Ref)
	}
	return issue
}

// issueUpdates builds the PATCH body covering only the fields where got and
// want differ. An empty map means the issue is already in the desired state.
func issueUpdates(got, want *tracker.Issue) map[string]interface{} {
	updates := make(map[string]interface{})
	if want.Title != "" && want.Title != got.Title {
		updates["title"] = want.Title
	}
	if want.Body != got.Body {
		updates["body"] = want.Body
	}
	if !stringSetEqual(got.Labels, want.Labels) {
		updates["labels"] = append([]string{}, want.Labels...)
	}
	if !stringSetEqual(got.Assignees, want.Assignees) {
		updates["assignees"] = append([]string{}, want.Assignees...)
	}
	gotClosed := got.ClosedAt != nil
	wantClosed := want.ClosedAt != nil
	if gotClosed != wantClosed {
		if wantClosed {
			updates["state"] = "closed"
			updates["state_reason"] = "completed"
		} else {
			updates["state"] = "open"
		}
	}
	return updates
}

func stringSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[strings.ToLower(s)]++
	}
	for _, s := range b {
		seen[strings.ToLower(s)]--
		if seen[strings.ToLower(s)] < 0 {
			return false
		}
	}
	return true
}
