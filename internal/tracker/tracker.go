package tracker

import (
	"context"
)

// IssueTracker is the interface every tracker plugin implements.
//
// Trackers are constructed by the registry, configured from the key/env
// config layer, and then driven by sync passes. All fetch results use the
// neutral Issue type; UpdateIssue receives both the fetched issue and the
// desired issue and writes only the fields that differ.
type IssueTracker interface {
	// Name returns the tracker's unique identifier (e.g., "github").
	Name() string

	// DisplayName returns a human-friendly name for CLI output.
	DisplayName() string

	// ConfigPrefix returns the config key prefix (e.g., "github" for
	// github.token).
	ConfigPrefix() string

	// Configure reads tokens and endpoints from cfg. Called once before use.
	Configure(cfg *Config) error

	// Validate checks that the tracker is reachable and credentials work.
	Validate(ctx context.Context) error

	// IsExternalRef reports whether the URL belongs to this tracker.
	IsExternalRef(url string) bool

	// ParseRef extracts an IssueRef from an issue URL. ok is false when the
	// URL does not name an issue on this tracker.
	ParseRef(url string) (IssueRef, bool)

	// RefURL renders the canonical web URL for a ref.
	RefURL(ref IssueRef) string

	// FetchIssues retrieves the given issues. Missing refs are absent from
	// the result map, not an error; callers decide how to report them.
	FetchIssues(ctx context.Context, refs []IssueRef) (map[IssueRef]*Issue, error)

	// FetchRepoIssues retrieves issues from one repository, fully draining
	// pagination.
	FetchRepoIssues(ctx context.Context, repo string, opts FetchOptions) ([]*Issue, error)

	// UpdateIssue writes the fields where got and want differ. It must not
	// touch fields that are equal, and must be a no-op when nothing differs.
	UpdateIssue(ctx context.Context, got, want *Issue) error

	// FetchSprints retrieves the sprints/iterations for one scope, or nil
	// when the tracker has no sprint concept. The scope is tracker-defined:
	// a repository for GitHub project iterations.
	FetchSprints(ctx context.Context, scope string) ([]Sprint, error)
}

// HierarchySource is implemented by trackers that model parent/child issue
// relationships natively. Passes that mirror a milestone's tasks use it to
// enumerate children without scanning whole repositories.
type HierarchySource interface {
	FetchSubIssues(ctx context.Context, ref IssueRef) ([]*Issue, error)
}
