package sets

import (
	"github.com/notionsync/notionsync/internal/config"
	"github.com/notionsync/notionsync/internal/notion"
	"github.com/notionsync/notionsync/internal/sync"
)

// Default Notion property names. Every one of them can be overridden per
// set through the [sync.<name>.properties] table, keyed by logical field
// name. An empty override disables an optional property.
const (
	defaultTasksTitle       = "Task name"
	defaultAssignee         = "Owner"
	defaultDates            = "Dates"
	defaultPriority         = "Priority"
	defaultStatus           = "Status"
	defaultMilestonesTitle  = "Project"
	defaultTaskMilestoneRel = "Project"
	defaultTaskSprintRel    = "Sprint"
	defaultIssueLink        = "Issue Link"
	defaultSprintTitle      = "Sprint name"
	defaultSprintStatus     = "Sprint status"
)

// defaultPriorities is the select vocabulary for priority properties.
var defaultPriorities = []string{"P1", "P2", "P3", "P4", "P5"}

// statusOptions is the full vocabulary of the tasks status property: the
// open default, the closed states, and any configured extras.
func statusOptions(cfg *config.Set) []string {
	options := []string{cfg.OpenStateName()}
	options = append(options, cfg.ClosedStateNames()...)
	options = append(options, cfg.StatusOptions...)
	return options
}

// milestoneSchema describes the milestone database properties a project
// pass reads and pushes to the tracker.
func milestoneSchema(cfg *config.Set) notion.Schema {
	return notion.NewSchema(
		notion.Title(sync.FieldTitle, cfg.Property(sync.FieldTitle, defaultMilestonesTitle)),
		notion.People(sync.FieldAssignees, cfg.Property(sync.FieldAssignees, defaultAssignee)),
		notion.Select(sync.FieldPriority, cfg.Property(sync.FieldPriority, defaultPriority), defaultPriorities...),
		notion.Status(sync.FieldState, cfg.Property(sync.FieldState, defaultStatus)),
		notion.Date(sync.FieldDates, cfg.Property(sync.FieldDates, defaultDates)),
		notion.URL(sync.FieldIssueLink, cfg.Property(sync.FieldIssueLink, defaultIssueLink)),
	)
}

// taskSchema describes the tasks database. Optional properties join the
// schema only when the set names them.
func taskSchema(cfg *config.Set, milestonesID, sprintsID string) notion.Schema {
	props := []notion.Property{
		notion.Title(sync.FieldTitle, cfg.Property(sync.FieldTitle, defaultTasksTitle)),
		notion.URL(sync.FieldIssueLink, cfg.Property(sync.FieldIssueLink, defaultIssueLink)),
		notion.People(sync.FieldAssignees, cfg.Property(sync.FieldAssignees, defaultAssignee)),
		notion.Select(sync.FieldPriority, cfg.Property(sync.FieldPriority, defaultPriority), defaultPriorities...),
		notion.Status(sync.FieldState, cfg.Property(sync.FieldState, defaultStatus), statusOptions(cfg)...),
		notion.Date(sync.FieldDates, cfg.Property(sync.FieldDates, defaultDates)),
		notion.Relation(sync.FieldMilestone, cfg.Property(sync.FieldMilestone, defaultTaskMilestoneRel), milestonesID, true),
	}
	if sprintsID != "" {
		props = append(props,
			notion.Relation(sync.FieldSprint, cfg.Property(sync.FieldSprint, defaultTaskSprintRel), sprintsID, true))
	}
	optional := []notion.Property{
		notion.TextSet(sync.FieldTextAssignees, cfg.Property(sync.FieldTextAssignees, "")),
		notion.URL(sync.FieldReviewURL, cfg.Property(sync.FieldReviewURL, "")),
		notion.MultiSelect(sync.FieldLabels, cfg.Property(sync.FieldLabels, "")),
		notion.Text(sync.FieldWhiteboard, cfg.Property(sync.FieldWhiteboard, "")),
		notion.Select(sync.FieldRepository, cfg.Property(sync.FieldRepository, "")),
		notion.Date(sync.FieldOpenClose, cfg.Property(sync.FieldOpenClose, "")),
	}
	for _, p := range optional {
		if p.Name != "" {
			props = append(props, p)
		}
	}
	return notion.NewSchema(props...)
}

// sprintSchema describes the sprints database.
func sprintSchema(cfg *config.Set) notion.Schema {
	return notion.NewSchema(
		notion.Title(sync.FieldTitle, cfg.Property(sync.FieldSprint+"_title", defaultSprintTitle)),
		notion.Status(sync.FieldState, cfg.Property(sync.FieldSprint+"_status", defaultSprintStatus)),
		notion.Date(sync.FieldDates, cfg.Property(sync.FieldSprint+"_dates", defaultDates)),
	)
}

// bugsSchema describes the flat ingestion database keyed by bug number.
func bugsSchema(cfg *config.Set) notion.Schema {
	return notion.NewSchema(
		notion.Title(sync.FieldTitle, cfg.Property(sync.FieldTitle, "Summary")),
		notion.Number(sync.FieldNumber, cfg.Property(sync.FieldNumber, "Bug Number")),
		notion.URL(sync.FieldIssueLink, cfg.Property(sync.FieldIssueLink, "Link")),
		notion.Status(sync.FieldState, cfg.Property(sync.FieldState, defaultStatus),
			boardNotStarted, boardInProgress, boardDone),
		notion.TextSet(sync.FieldTextAssignees, cfg.Property(sync.FieldTextAssignees, "Assignee")),
		notion.Select(sync.FieldProduct, cfg.Property(sync.FieldProduct, "Product"), cfg.Products...),
		notion.Text(sync.FieldComponent, cfg.Property(sync.FieldComponent, "Component")),
		notion.Text(sync.FieldVersion, cfg.Property(sync.FieldVersion, "Version")),
		notion.TextSet(sync.FieldLabels, cfg.Property(sync.FieldLabels, "Keywords")),
		notion.Text(sync.FieldWhiteboard, cfg.Property(sync.FieldWhiteboard, "Whiteboard")),
	)
}

// boardSchema describes the rollup board. Team options cover each source
// area plus the bucket for rows without relations.
func boardSchema(cfg *config.Set, areas []string) notion.Schema {
	teamOptions := append(append([]string(nil), areas...), "Needs Milestone")
	return notion.NewSchema(
		notion.Title(sync.FieldTitle, cfg.Property(sync.FieldTitle, "Name")),
		notion.Date(sync.FieldDates, cfg.Property(sync.FieldDates, defaultDates)),
		notion.Status(sync.FieldState, cfg.Property(sync.FieldState, defaultStatus),
			boardNotStarted, boardInProgress, boardDone),
		notion.Select(sync.FieldTeam, cfg.Property(sync.FieldTeam, "Team"), teamOptions...),
	)
}
