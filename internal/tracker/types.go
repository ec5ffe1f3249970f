// Package tracker provides a plugin-based architecture for issue tracker
// integrations. It defines the common issue model and interfaces that allow
// different trackers (GitHub, Bugzilla) to be driven by the same sync passes.
package tracker

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// IssueRef identifies an issue by repository and permanent number.
// Refs survive renames and are the stable half of every cross-system key.
type IssueRef struct {
	Repo   string // "owner/name" for GitHub, instance host for Bugzilla
	Number int
}

// String renders the ref in its canonical "repo#number" form.
func (r IssueRef) String() string {
	return fmt.Sprintf("%s#%d", r.Repo, r.Number)
}

// SprintStatus describes where a sprint sits relative to today.
type SprintStatus string

const (
	SprintFuture  SprintStatus = "Future"
	SprintCurrent SprintStatus = "Current"
	SprintPast    SprintStatus = "Past"
)

// Sprint is an iteration/cycle on the tracker side.
type Sprint struct {
	ID        string
	Name      string
	Status    SprintStatus
	StartDate *time.Time
	EndDate   *time.Time
}

// Issue is the tracker-neutral representation every plugin converts to and
// from. State carries the tracker's native workflow status (e.g. Bugzilla's
// ASSIGNED); trackers without a workflow leave it empty and callers fall
// back to ClosedAt.
type Issue struct {
	Ref        IssueRef
	Title      string
	Body       string
	State      string
	Resolution string // qualifier on a closed State, e.g. FIXED, DUPLICATE
	Priority   string
	Type       string
	Assignees  []string // tracker handles, set semantics
	Labels     []string // set semantics
	URL        string
	ReviewURL  string
	NotionURL  string // backlink written by a previous pass, if any
	CreatedAt  *time.Time
	ClosedAt   *time.Time
	StartDate  *time.Time // planned start, date precision
	EndDate    *time.Time // planned end, date precision
	SprintID   string
	Parents    []IssueRef
	SubIssues  []IssueRef
	Whiteboard string

	// Classification the tracker exposes. Bugzilla fills all three;
	// GitHub has no equivalent and leaves them empty.
	Product   string
	Component string
	Version   string

	// DuplicateOf points at the surviving issue when the tracker resolved
	// this one as a duplicate. Ingestion passes retire duplicates.
	DuplicateOf *IssueRef
}

// Clone returns a deep copy. Sync passes mutate the copy when building the
// desired tracker state so the fetched original stays comparable.
func (i *Issue) Clone() *Issue {
	c := *i
	c.Assignees = append([]string(nil), i.Assignees...)
	c.Labels = append([]string(nil), i.Labels...)
	c.Parents = append([]IssueRef(nil), i.Parents...)
	c.SubIssues = append([]IssueRef(nil), i.SubIssues...)
	c.CreatedAt = cloneTime(i.CreatedAt)
	c.ClosedAt = cloneTime(i.ClosedAt)
	c.StartDate = cloneTime(i.StartDate)
	c.EndDate = cloneTime(i.EndDate)
	if i.DuplicateOf != nil {
		ref := *i.DuplicateOf
		c.DuplicateOf = &ref
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// User maps a tracker handle to a Notion person id. Handles compare
// case-insensitively because Bugzilla emails and GitHub logins both do.
type User struct {
	Handle   string // tracker-side handle (login or email)
	NotionID string
	Name     string // display fallback when NotionID is empty
}

// UserMap resolves tracker handles to Notion person ids.
type UserMap struct {
	byHandle map[string]User
	byNotion map[string]User
}

// NewUserMap builds a map from the given users. Later entries win on
// duplicate handles.
func NewUserMap(users []User) *UserMap {
	m := &UserMap{
		byHandle: make(map[string]User, len(users)),
		byNotion: make(map[string]User, len(users)),
	}
	for _, u := range users {
		m.byHandle[strings.ToLower(u.Handle)] = u
		if u.NotionID != "" {
			m.byNotion[u.NotionID] = u
		}
	}
	return m
}

// Lookup returns the user for a tracker handle. ok is false when the handle
// is unmapped; callers degrade to a text rendering of the handle.
func (m *UserMap) Lookup(handle string) (User, bool) {
	if m == nil {
		return User{}, false
	}
	u, ok := m.byHandle[strings.ToLower(handle)]
	return u, ok
}

// LookupNotion returns the user for a Notion person id.
func (m *UserMap) LookupNotion(id string) (User, bool) {
	if m == nil {
		return User{}, false
	}
	u, ok := m.byNotion[id]
	return u, ok
}

// Handles returns all mapped handles, sorted. Used by debug output.
func (m *UserMap) Handles() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.byHandle))
	for h := range m.byHandle {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of mapped users.
func (m *UserMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.byHandle)
}

// FetchOptions controls issue search on trackers that support it.
type FetchOptions struct {
	States      []string   // tracker-native states to include
	ActiveSince *time.Time // only issues touched after this instant
	Limit       int        // 0 means no limit
}

// ErrNotConfigured is returned when a tracker is used before its required
// configuration (token, base URL) is present.
type ErrNotConfigured struct {
	Tracker string
	Key     string
}

func (e *ErrNotConfigured) Error() string {
	return fmt.Sprintf("%s tracker: %s not configured", e.Tracker, e.Key)
}
