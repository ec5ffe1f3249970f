package sync

import (
	"time"

	"github.com/notionsync/notionsync/internal/tracker"
)

// Logical field names shared by all topologies. Native property names are
// configured per repository set through the FieldSpec table.
const (
	FieldTitle         = "title"
	FieldBody          = "body"
	FieldState         = "state"
	FieldPriority      = "priority"
	FieldAssignees     = "assignees"
	FieldTextAssignees = "text_assignees"
	FieldLabels        = "labels"
	FieldType          = "type"
	FieldDates         = "dates"
	FieldSprint        = "sprint"
	FieldMilestone     = "milestone"
	FieldIssueLink     = "issue_link"
	FieldReviewURL     = "review_url"
	FieldWhiteboard    = "whiteboard"
	FieldRepository    = "repository"
	FieldTeam          = "team"
	FieldNotionURL     = "notion_url"
	FieldOpenClose     = "openclose"
	FieldNumber        = "number"
	FieldProduct       = "product"
	FieldComponent     = "component"
	FieldVersion       = "version"

	// Auxiliary source fields consumed by merge rules, never synced.
	FieldCreatedAt   = "created_at"
	FieldClosedAt    = "closed_at"
	FieldSprintDates = "sprint_dates"
)

// IssueKey derives the stable cross-system key for a tracker issue.
func IssueKey(trackerName string, ref tracker.IssueRef) Key {
	return Key(trackerName + ":" + ref.String())
}

// RecordFromIssue converts a tracker issue to a logical record. The same
// conversion serves both directions: the issue is the source of a task
// pass and the target of a milestone pass.
//
// sprints maps sprint ids to their definitions so the sprint relation can
// resolve by name and sprint dates can take precedence over issue dates.
func RecordFromIssue(trackerName string, issue *tracker.Issue, users *tracker.UserMap, sprints map[string]*tracker.Sprint) *Record {
	r := &Record{
		NativeID: issue.Ref.String(),
		Key:      IssueKey(trackerName, issue.Ref),
		Fields:   make(map[string]Value),
		Raw:      issue,
	}

	r.Fields[FieldTitle] = Text(issue.Title)
	r.Fields[FieldBody] = Text(issue.Body)
	r.Fields[FieldState] = Select(issue.State)
	r.Fields[FieldPriority] = Select(issue.Priority)
	r.Fields[FieldType] = Select(issue.Type)
	r.Fields[FieldAssignees] = MapPersons(users, issue.Assignees)
	r.Fields[FieldTextAssignees] = Labels(append([]string(nil), issue.Assignees...))
	r.Fields[FieldLabels] = Labels(append([]string(nil), issue.Labels...))
	r.Fields[FieldIssueLink] = Link(issue.URL)
	r.Fields[FieldReviewURL] = Link(issue.ReviewURL)
	r.Fields[FieldNotionURL] = Link(issue.NotionURL)
	r.Fields[FieldWhiteboard] = Text(issue.Whiteboard)
	r.Fields[FieldRepository] = Select(issue.Ref.Repo)
	r.Fields[FieldDates] = DateRange{Start: DatePtr(issue.StartDate), End: DatePtr(issue.EndDate)}
	r.Fields[FieldCreatedAt] = DateRange{Start: issue.CreatedAt}
	r.Fields[FieldClosedAt] = DateRange{Start: issue.ClosedAt}
	r.Fields[FieldOpenClose] = DateRange{Start: issue.CreatedAt, End: issue.ClosedAt}
	r.Fields[FieldNumber] = NumberOf(float64(issue.Ref.Number))
	r.Fields[FieldProduct] = Select(issue.Product)
	r.Fields[FieldComponent] = Text(issue.Component)
	r.Fields[FieldVersion] = Text(issue.Version)

	milestones := make(Relations, 0, len(issue.Parents))
	for _, p := range issue.Parents {
		milestones = append(milestones, IssueKey(trackerName, p))
	}
	r.Fields[FieldMilestone] = milestones

	if issue.SprintID != "" {
		if s := sprints[issue.SprintID]; s != nil {
			r.Fields[FieldSprint] = Relations{Key(s.Name)}
			r.Fields[FieldSprintDates] = DateRange{Start: DatePtr(s.StartDate), End: DatePtr(s.EndDate)}
		}
	}

	return r
}

// RecordFromSprint converts a tracker sprint to a record keyed by name,
// the identity sprint pages merge on.
func RecordFromSprint(s *tracker.Sprint) *Record {
	r := &Record{
		NativeID: s.ID,
		Key:      Key(s.Name),
		System:   SystemSource,
		Fields:   make(map[string]Value),
		Raw:      s,
	}
	r.Fields[FieldTitle] = Text(s.Name)
	r.Fields[FieldState] = Select(string(s.Status))
	r.Fields[FieldDates] = DateRange{Start: DatePtr(s.StartDate), End: DatePtr(s.EndDate)}
	return r
}

// IssueFromOperation builds the desired tracker issue for an update
// operation by overlaying changed logical fields onto the fetched issue.
// Only fields present in the operation are touched.
func IssueFromOperation(got *tracker.Issue, op Operation, users *tracker.UserMap) *tracker.Issue {
	want := got.Clone()
	for name, v := range op.Fields {
		switch name {
		case FieldTitle:
			if t, ok := v.(Text); ok {
				want.Title = string(t)
			}
		case FieldBody:
			if t, ok := v.(Text); ok {
				want.Body = string(t)
			}
		case FieldState:
			if s, ok := v.(Select); ok {
				want.State = string(s)
			}
		case FieldPriority:
			if s, ok := v.(Select); ok {
				want.Priority = string(s)
			}
		case FieldType:
			if s, ok := v.(Select); ok {
				want.Type = string(s)
			}
		case FieldLabels:
			if l, ok := v.(Labels); ok {
				want.Labels = append([]string(nil), l...)
			}
		case FieldAssignees:
			if p, ok := v.(Persons); ok {
				handles := HandlesFor(users, p)
				for _, member := range p {
					if member.NotionID == "" && member.Name != "" {
						handles = append(handles, member.Name)
					}
				}
				want.Assignees = handles
			}
		case FieldNotionURL:
			if l, ok := v.(Link); ok {
				want.NotionURL = string(l)
			}
		case FieldDates:
			if d, ok := v.(DateRange); ok {
				want.StartDate = d.Start
				want.EndDate = d.End
			}
		}
	}
	return want
}

// MergeTaskDates derives the planned dates for a task page following the
// precedence the planning workflow expects: sprint dates win, then the
// issue's own planned dates (start never earlier than creation or the
// page's current planned start), then the created..closed span for records
// that ended up closed. An end before its start clamps to the start.
func MergeTaskDates(closedStates []string, warn func(format string, args ...any)) MergeFunc {
	closed := make(map[string]bool, len(closedStates))
	for _, s := range closedStates {
		closed[s] = true
	}
	return func(m Match, authoritative, current Value) Value {
		issueDates, _ := authoritative.(DateRange)
		currentDates, _ := current.(DateRange)
		var created, closedAt, sprintDates DateRange
		if m.Source != nil {
			created, _ = m.Source.Field(FieldCreatedAt).(DateRange)
			closedAt, _ = m.Source.Field(FieldClosedAt).(DateRange)
			sprintDates, _ = m.Source.Field(FieldSprintDates).(DateRange)
		}

		var start, end *time.Time
		switch {
		case !sprintDates.Empty():
			start, end = sprintDates.Start, sprintDates.End
		case issueDates.Start != nil || issueDates.End != nil:
			start = LaterOf(LaterOf(issueDates.Start, created.Start), currentDates.Start)
			end = issueDates.End
			if end == nil {
				end = closedAt.Start
			}
		case recordClosed(m.Source, closed):
			start = LaterOf(created.Start, currentDates.Start)
			end = closedAt.Start
		default:
			return DateRange{}
		}

		if start != nil && end != nil && end.Before(*start) {
			if warn != nil {
				warn("record %s ends before it starts (%s – %s)", m.Key,
					start.Format("2006-01-02"), end.Format("2006-01-02"))
			}
			end = start
		}
		return DateRange{Start: start, End: end}
	}
}

// recordClosed reports whether the source record counts as closed: an
// explicit closed state, or no state at all but a closed timestamp.
func recordClosed(r *Record, closedStates map[string]bool) bool {
	if r == nil {
		return false
	}
	if s, ok := r.Field(FieldState).(Select); ok && !s.Empty() {
		return closedStates[string(s)]
	}
	d, ok := r.Field(FieldClosedAt).(DateRange)
	return ok && !d.Empty()
}

// MergeUnionLabels keeps existing labels and adds the authoritative set
// plus any fixed extras (the per-set extra label). Labels accumulate, never
// shrink: a hand-applied tracker label survives every pass.
func MergeUnionLabels(extra ...string) MergeFunc {
	return func(_ Match, authoritative, current Value) Value {
		have := make(map[string]bool)
		var out Labels
		add := func(labels []string) {
			for _, l := range labels {
				if !have[l] {
					have[l] = true
					out = append(out, l)
				}
			}
		}
		if cur, ok := current.(Labels); ok {
			add(cur)
		}
		if want, ok := authoritative.(Labels); ok {
			add(want)
		}
		add(extra)
		return out
	}
}
