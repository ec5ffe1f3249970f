package sets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/notionsync/notionsync/internal/config"
	"github.com/notionsync/notionsync/internal/notion"
	"github.com/notionsync/notionsync/internal/sync"
	"github.com/notionsync/notionsync/internal/tracker"
)

// labelSet is the flat topology: every labeled issue in the configured
// repositories pulls into a task page, with milestone membership derived
// from prefixed labels instead of an issue hierarchy.
type labelSet struct {
	name string
	cfg  *config.Set
	opts Options

	tr    tracker.IssueTracker
	users *tracker.UserMap

	milestones *notion.Database
	tasks      *notion.Database

	msg  func(format string, args ...any)
	warn func(format string, args ...any)
}

func newLabelSet(opts Options, client *notion.Client, tr tracker.IssueTracker) *labelSet {
	cfg := opts.Set
	l := &labelSet{
		name:  opts.Name,
		cfg:   cfg,
		opts:  opts,
		tr:    tr,
		users: opts.Users.For(tr.Name()),
		msg:   message(opts.OnMessage),
		warn:  message(opts.OnWarning),
	}
	l.milestones = notion.NewDatabase(client, cfg.NotionMilestonesID, milestoneSchema(cfg))
	l.milestones.DryRun = opts.DryRun
	l.tasks = notion.NewDatabase(client, cfg.NotionTasksID, taskSchema(cfg, l.milestones.ID, ""))
	l.tasks.DryRun = opts.DryRun
	return l
}

func (l *labelSet) Validate(ctx context.Context) error {
	if err := l.tr.Validate(ctx); err != nil {
		return fmt.Errorf("%s: tracker: %w", l.name, err)
	}
	if err := l.milestones.ValidateProps(ctx); err != nil {
		return fmt.Errorf("%s: %w", l.name, err)
	}
	if err := l.tasks.ValidateProps(ctx); err != nil {
		return fmt.Errorf("%s: %w", l.name, err)
	}
	return nil
}

func (l *labelSet) Run(ctx context.Context) (*sync.Report, error) {
	report := &sync.Report{Pass: l.name}
	if err := l.Validate(ctx); err != nil {
		return report, err
	}
	started := time.Now().UTC()

	var all []*tracker.Issue
	opts := tracker.FetchOptions{Limit: l.cfg.Limit}
	for _, repo := range l.cfg.Repositories {
		issues, err := l.tr.FetchRepoIssues(ctx, repo, opts)
		if err != nil {
			return report, fmt.Errorf("%s: fetching %s: %w", l.name, repo, err)
		}
		all = append(all, issues...)
	}
	source := issueRecords(l.tr.Name(), all, l.users, nil, sync.SystemSource)

	// Milestone membership comes from the labels, not from parents.
	prefix := l.cfg.LabelPrefix()
	for _, r := range source {
		r.SetField(sync.FieldMilestone, milestonesFromLabels(r, prefix))
	}

	milestonePages, err := l.milestones.Records(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("%s: fetching milestone pages: %w", l.name, err)
	}
	milestoneIdx, _, err := sync.BuildIndex(milestonePages, sync.KeyFromTitle(sync.FieldTitle))
	if err != nil {
		return report, fmt.Errorf("%s: indexing milestone pages: %w", l.name, err)
	}
	resolver := sync.NewRelationResolver(milestoneIdx)
	relations := map[string]*sync.RelationResolver{sync.FieldMilestone: resolver}

	taskPages, err := l.tasks.Records(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("%s: fetching task pages: %w", l.name, err)
	}
	markSystem(taskPages, sync.SystemTarget)
	rekeyRelations(taskPages, sync.FieldMilestone, resolver)

	applier := &notion.Applier{DB: l.tasks, Relations: relations}
	if l.cfg.TasksBodySync {
		applier.CreateChildren = []map[string]any{notion.WarningCallout(notion.BodyOverwriteWarning)}
		applier.CreateBodies = bodyTexts(source)
	}

	pass := &sync.Pass{
		Name:      l.name,
		Source:    staticSource(source),
		Target:    staticSource(taskPages),
		TargetKey: linkKeyFunc(l.tr),
		Diff: sync.DiffConfig{
			Specs:        l.taskSpecs(),
			Relations:    relations,
			OnSourceOnly: sync.SourceOnlyCreate,
			OnTargetOnly: sync.TargetOnlyKeep,
		},
		Applier:   applier,
		DryRun:    l.opts.DryRun,
		OnMessage: l.msg,
		OnWarning: l.warn,
	}
	rep, _, err := pass.Run(ctx)
	report.Merge(rep)
	if err != nil {
		return report, err
	}

	if err := l.tasks.StampLastSync(ctx, l.name, started); err != nil {
		reportWarn(report, l.warn, "%s: stamping last sync: %v", l.name, err)
	}
	return report, nil
}

func (l *labelSet) taskSpecs() sync.SpecTable {
	specs := []sync.FieldSpec{
		{Name: sync.FieldTitle, Kind: sync.KindText, Authority: sync.AuthSourceToTarget, Prefix: l.cfg.TasksNotionPrefix},
		{Name: sync.FieldIssueLink, Kind: sync.KindLink, Authority: sync.AuthSourceToTarget},
		{Name: sync.FieldState, Kind: sync.KindSelect, Authority: sync.AuthSourceToTarget,
			Merge: sync.MergeStateFallback(sync.FieldClosedAt, l.cfg.OpenStateName(), l.cfg.ClosedStateNames())},
		{Name: sync.FieldPriority, Kind: sync.KindSelect, Authority: sync.AuthSourceToTarget},
		{Name: sync.FieldAssignees, Kind: sync.KindPersons, Authority: sync.AuthSourceToTarget},
		{Name: sync.FieldDates, Kind: sync.KindDateRange, Authority: sync.AuthSourceToTarget,
			Merge: sync.MergeTaskDates(l.cfg.ClosedStateNames(), l.warn)},
		{Name: sync.FieldMilestone, Kind: sync.KindRelations, Authority: sync.AuthSourceToTarget},
	}
	optional := []sync.FieldSpec{
		{Name: sync.FieldTextAssignees, Kind: sync.KindLabels, Authority: sync.AuthSourceToTarget},
		{Name: sync.FieldReviewURL, Kind: sync.KindLink, Authority: sync.AuthSourceToTarget},
		{Name: sync.FieldLabels, Kind: sync.KindLabels, Authority: sync.AuthSourceToTarget},
		{Name: sync.FieldWhiteboard, Kind: sync.KindText, Authority: sync.AuthSourceToTarget},
		{Name: sync.FieldRepository, Kind: sync.KindSelect, Authority: sync.AuthSourceToTarget},
		{Name: sync.FieldOpenClose, Kind: sync.KindDateRange, Authority: sync.AuthSourceToTarget},
	}
	for _, spec := range optional {
		if l.cfg.Property(spec.Name, "") != "" {
			specs = append(specs, spec)
		}
	}
	return sync.NewSpecTable(specs...)
}

// milestonesFromLabels derives relation keys from prefixed labels. The
// key is the milestone page title with the prefix stripped; unknown
// titles stay unlinked rather than failing the record.
func milestonesFromLabels(r *sync.Record, prefix string) sync.Relations {
	labels, _ := r.Field(sync.FieldLabels).(sync.Labels)
	var rels sync.Relations
	for _, label := range labels {
		if !strings.HasPrefix(label, prefix) {
			continue
		}
		name := strings.TrimSpace(label[len(prefix):])
		if name == "" {
			continue
		}
		rels = append(rels, sync.Key(name))
	}
	return rels
}
