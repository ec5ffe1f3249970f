// Package config loads the TOML settings file and the YAML user maps that
// drive sync passes.
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/notionsync/notionsync/internal/tracker"
)

// Sync methods a set can declare.
const (
	MethodGitHubProject   = "github_project"
	MethodBugzillaProject = "bugzilla_project"
	MethodGitHubLabels    = "github_labels"
	MethodBugzilla        = "bugzilla"
	MethodProjectBoard    = "project_board"
)

// DefaultMilestoneLabelPrefix marks labels that name a milestone page.
const DefaultMilestoneLabelPrefix = "M: "

// DefaultActivityDays is the recency window for bugzilla ingestion queries
// and the staleness cutoff for resolved bugs.
const DefaultActivityDays = 90

// Settings is the whole settings file.
type Settings struct {
	// Dry forces dry-run mode for every set regardless of flags.
	Dry bool `toml:"dry"`

	// Config carries flat tracker configuration (github.token and friends).
	// Values here win over environment variables.
	Config map[string]string `toml:"config"`

	// Sync holds one entry per configured set.
	Sync map[string]*Set `toml:"sync"`
}

// Set is one [sync.<name>] block.
type Set struct {
	Method        string `toml:"method"`
	Enabled       *bool  `toml:"enabled"` // nil means enabled
	TrackerDryRun bool   `toml:"tracker_dry_run"`

	// Repositories lists the tracker repositories ("owner/name") for GitHub
	// methods. Bugzilla methods use Products instead.
	Repositories []string `toml:"repositories"`
	Products     []string `toml:"products"`

	// BugzillaBase overrides the Bugzilla instance for this set.
	BugzillaBase string `toml:"bugzilla_base"`

	// Notion database ids per role. Which ones are required depends on the
	// method; see Validate.
	NotionMilestonesID string `toml:"notion_milestones_id"`
	NotionTasksID      string `toml:"notion_tasks_id"`
	NotionSprintsID    string `toml:"notion_sprints_id"`
	NotionBoardID      string `toml:"notion_board_id"`
	NotionBugsID       string `toml:"notion_bugs_id"`

	// Bugzilla ingestion query shape.
	Statuses     []string `toml:"statuses"`
	ActivityDays int      `toml:"activity_days"`
	Limit        int      `toml:"limit"`

	// Body sync behavior. TasksBodySync writes the issue body (behind an
	// overwrite warning callout) into task pages at creation; page bodies
	// are never rewritten afterward.
	MilestonesBodySync        bool `toml:"milestones_body_sync"`
	MilestonesBodySyncIfEmpty bool `toml:"milestones_body_sync_if_empty"`
	TasksBodySync             bool `toml:"tasks_body_sync"`

	// Title decoration and labeling.
	MilestonesTrackerPrefix string `toml:"milestones_tracker_prefix"`
	MilestonesExtraLabel    string `toml:"milestones_extra_label"`
	TasksNotionPrefix       string `toml:"tasks_notion_prefix"`
	MilestoneLabelPrefix    string `toml:"milestone_label_prefix"`

	// SprintsMergeByName merges tracker sprints into the sprint database by
	// name instead of by id.
	SprintsMergeByName bool `toml:"sprints_merge_by_name"`

	// Workflow state vocabulary on the Notion side. Defaults depend on the
	// tracker: GitHub sets use Backlog / [Done, Canceled], Bugzilla project
	// sets mirror the native statuses (NEW / [RESOLVED]).
	OpenState     string   `toml:"open_state"`
	ClosedStates  []string `toml:"closed_states"`
	StatusOptions []string `toml:"status_options"`

	// Team names the board rollup's team select value.
	Team string `toml:"team"`

	// Boards lists the source databases a project_board set rolls up, keyed
	// by area name.
	Boards map[string]*BoardSource `toml:"boards"`

	// Properties overrides default Notion property names, keyed by logical
	// field name.
	Properties map[string]string `toml:"properties"`
}

// BoardSource is one database feeding a project_board rollup: where to
// read related pages and which of their properties carry title and dates.
type BoardSource struct {
	Database string `toml:"database"`
	Title    string `toml:"title"`
	Dates    string `toml:"dates"`
}

// IsEnabled reports whether the set should run. Sets are enabled unless
// explicitly disabled.
func (s *Set) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// LabelPrefix returns the milestone label prefix, defaulted.
func (s *Set) LabelPrefix() string {
	if s.MilestoneLabelPrefix == "" {
		return DefaultMilestoneLabelPrefix
	}
	return s.MilestoneLabelPrefix
}

// Window returns the recency window in days, defaulted.
func (s *Set) Window() int {
	if s.ActivityDays <= 0 {
		return DefaultActivityDays
	}
	return s.ActivityDays
}

// Property returns the Notion property name for a logical field, falling
// back to the given default.
func (s *Set) Property(field, fallback string) string {
	if name, ok := s.Properties[field]; ok && name != "" {
		return name
	}
	return fallback
}

// OpenStateName returns the default workflow state for open records.
func (s *Set) OpenStateName() string {
	if s.OpenState != "" {
		return s.OpenState
	}
	if s.Method == MethodBugzillaProject {
		return "NEW"
	}
	return "Backlog"
}

// ClosedStateNames returns the workflow states that count as closed. The
// first entry is the state written when a record closes.
func (s *Set) ClosedStateNames() []string {
	if len(s.ClosedStates) > 0 {
		return s.ClosedStates
	}
	if s.Method == MethodBugzillaProject {
		return []string{"RESOLVED"}
	}
	return []string{"Done", "Canceled"}
}

// TrackerName returns the tracker plugin the method needs, or empty for
// Notion-internal methods.
func (s *Set) TrackerName() string {
	switch s.Method {
	case MethodGitHubProject, MethodGitHubLabels:
		return "github"
	case MethodBugzillaProject, MethodBugzilla:
		return "bugzilla"
	default:
		return ""
	}
}

// Load reads and validates a settings file.
func Load(path string) (*Settings, error) {
	var settings Settings
	if _, err := toml.DecodeFile(path, &settings); err != nil {
		return nil, fmt.Errorf("loading settings %s: %w", path, err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	return &settings, nil
}

// Parse reads settings from TOML text. Used by tests.
func Parse(text string) (*Settings, error) {
	var settings Settings
	if _, err := toml.Decode(text, &settings); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Validate checks every set for a known method and the database ids that
// method requires.
func (s *Settings) Validate() error {
	for name, set := range s.Sync {
		if err := set.validate(); err != nil {
			return fmt.Errorf("sync.%s: %w", name, err)
		}
	}
	return nil
}

func (s *Set) validate() error {
	switch s.Method {
	case MethodGitHubProject, MethodGitHubLabels:
		if len(s.Repositories) == 0 {
			return fmt.Errorf("%s requires repositories", s.Method)
		}
		if s.NotionMilestonesID == "" || s.NotionTasksID == "" {
			return fmt.Errorf("%s requires notion_milestones_id and notion_tasks_id", s.Method)
		}
	case MethodBugzillaProject:
		if s.NotionMilestonesID == "" || s.NotionTasksID == "" {
			return fmt.Errorf("%s requires notion_milestones_id and notion_tasks_id", s.Method)
		}
	case MethodBugzilla:
		if s.NotionBugsID == "" {
			return fmt.Errorf("%s requires notion_bugs_id", s.Method)
		}
		if len(s.Products) == 0 {
			return fmt.Errorf("%s requires products", s.Method)
		}
	case MethodProjectBoard:
		if s.NotionBoardID == "" {
			return fmt.Errorf("%s requires notion_board_id", s.Method)
		}
	case "":
		return fmt.Errorf("missing method")
	default:
		return fmt.Errorf("unknown method %q", s.Method)
	}
	return nil
}

// SetNames returns the configured set names, sorted.
func (s *Settings) SetNames() []string {
	names := make([]string, 0, len(s.Sync))
	for name := range s.Sync {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pick resolves the requested set names, or all configured sets when none
// are named. Unknown names error listing the available set.
func (s *Settings) Pick(names []string) ([]string, error) {
	if len(names) == 0 {
		return s.SetNames(), nil
	}
	for _, name := range names {
		if _, ok := s.Sync[name]; !ok {
			return nil, fmt.Errorf("unknown set %q (available: %s)",
				name, strings.Join(s.SetNames(), ", "))
		}
	}
	return names, nil
}

// TrackerStore adapts the [config] table to the tracker config layer.
// Environment fallback happens inside tracker.Config.
func (s *Settings) TrackerStore() tracker.ConfigStore {
	return tracker.MapStore(s.Config)
}
