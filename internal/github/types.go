package github

import "time"

// Issue is the GitHub REST representation of an issue, trimmed to the
// fields the sync passes read.
type Issue struct {
	Number        int        `json:"number"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	State         string     `json:"state"`        // "open" or "closed"
	StateReason   string     `json:"state_reason"` // "completed", "not_planned", "reopened"
	HTMLURL       string     `json:"html_url"`
	RepositoryURL string     `json:"repository_url"`
	Labels        []Label    `json:"labels"`
	Assignees     []Account  `json:"assignees"`
	Milestone     *Milestone `json:"milestone"`
	Type          *IssueType `json:"type"`
	CreatedAt     *time.Time `json:"created_at"`
	ClosedAt      *time.Time `json:"closed_at"`

	// PullRequest is non-nil when the issues endpoint returned a PR.
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`

	SubIssuesSummary *SubIssuesSummary `json:"sub_issues_summary,omitempty"`
}

// Label is a repository label.
type Label struct {
	Name string `json:"name"`
}

// Account is a GitHub user reference.
type Account struct {
	Login string `json:"login"`
}

// Milestone is the classic milestone attached to an issue.
type Milestone struct {
	Number  int        `json:"number"`
	Title   string     `json:"title"`
	State   string     `json:"state"`
	DueOn   *time.Time `json:"due_on"`
	HTMLURL string     `json:"html_url"`
}

// IssueType is the organization-level issue type (Bug, Task, Feature).
type IssueType struct {
	Name string `json:"name"`
}

// SubIssuesSummary reports sub-issue counts without listing them.
type SubIssuesSummary struct {
	Total            int `json:"total"`
	Completed        int `json:"completed"`
	PercentCompleted int `json:"percent_completed"`
}

// LabelNames extracts the label names in listing order.
func (i *Issue) LabelNames() []string {
	if len(i.Labels) == 0 {
		return nil
	}
	names := make([]string, len(i.Labels))
	for idx, l := range i.Labels {
		names[idx] = l.Name
	}
	return names
}

// AssigneeLogins extracts the assignee logins in listing order.
func (i *Issue) AssigneeLogins() []string {
	if len(i.Assignees) == 0 {
		return nil
	}
	logins := make([]string, len(i.Assignees))
	for idx, a := range i.Assignees {
		logins[idx] = a.Login
	}
	return logins
}
