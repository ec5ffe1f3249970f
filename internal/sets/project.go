package sets

import (
	"context"
	"fmt"
	"time"

	"github.com/notionsync/notionsync/internal/config"
	"github.com/notionsync/notionsync/internal/notion"
	"github.com/notionsync/notionsync/internal/sync"
	"github.com/notionsync/notionsync/internal/tracker"
)

// projectSet is the hierarchical topology: Notion milestone pages push to
// tracker issues, tracker child issues pull into Notion task pages, and
// tracker sprints merge into the sprint database by name.
type projectSet struct {
	name string
	cfg  *config.Set
	opts Options

	tr    tracker.IssueTracker
	users *tracker.UserMap

	milestones *notion.Database
	tasks      *notion.Database
	sprints    *notion.Database // nil when the set has no sprint database

	msg  func(format string, args ...any)
	warn func(format string, args ...any)
}

func newProjectSet(opts Options, client *notion.Client, tr tracker.IssueTracker) *projectSet {
	cfg := opts.Set
	p := &projectSet{
		name:  opts.Name,
		cfg:   cfg,
		opts:  opts,
		tr:    tr,
		users: opts.Users.For(tr.Name()),
		msg:   message(opts.OnMessage),
		warn:  message(opts.OnWarning),
	}
	p.milestones = notion.NewDatabase(client, cfg.NotionMilestonesID, milestoneSchema(cfg))
	p.milestones.DryRun = opts.DryRun
	if cfg.NotionSprintsID != "" {
		p.sprints = notion.NewDatabase(client, cfg.NotionSprintsID, sprintSchema(cfg))
		p.sprints.DryRun = opts.DryRun
	}
	sprintsID := ""
	if p.sprints != nil {
		sprintsID = p.sprints.ID
	}
	p.tasks = notion.NewDatabase(client, cfg.NotionTasksID, taskSchema(cfg, p.milestones.ID, sprintsID))
	p.tasks.DryRun = opts.DryRun
	return p
}

// Validate checks all database schemas and tracker credentials.
func (p *projectSet) Validate(ctx context.Context) error {
	if err := p.tr.Validate(ctx); err != nil {
		return fmt.Errorf("%s: tracker: %w", p.name, err)
	}
	for _, db := range []*notion.Database{p.milestones, p.tasks, p.sprints} {
		if db == nil {
			continue
		}
		if err := db.ValidateProps(ctx); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return nil
}

// Run executes the sprint, milestone, and task passes in order. Sprints go
// first so the task pass can resolve sprint relations against pages the
// sprint pass just created.
func (p *projectSet) Run(ctx context.Context) (*sync.Report, error) {
	report := &sync.Report{Pass: p.name}
	if err := p.Validate(ctx); err != nil {
		return report, err
	}
	started := time.Now().UTC()

	sprintIdx, sprintDefs, err := p.runSprints(ctx, report)
	if err != nil {
		return report, err
	}

	milestonePages, milestoneIssues, err := p.runMilestones(ctx, report)
	if err != nil {
		return report, err
	}

	if err := p.runTasks(ctx, report, milestonePages, milestoneIssues, sprintIdx, sprintDefs); err != nil {
		return report, err
	}

	for _, db := range []*notion.Database{p.milestones, p.tasks, p.sprints} {
		if db == nil {
			continue
		}
		if err := db.StampLastSync(ctx, p.name, started); err != nil {
			reportWarn(report, p.warn, "%s: stamping last sync: %v", p.name, err)
		}
	}
	return report, nil
}

// runSprints merges tracker sprints into the sprint database by name and
// returns the final page index for sprint relation resolution.
func (p *projectSet) runSprints(ctx context.Context, report *sync.Report) (*sync.Index, map[string]*tracker.Sprint, error) {
	if p.sprints == nil {
		return nil, nil, nil
	}
	// Each repository contributes the iterations of its attached projects.
	// Shared projects surface the same sprint from several repositories;
	// the dedupe below keeps the first.
	scopes := p.cfg.Repositories
	if len(scopes) == 0 {
		scopes = []string{p.cfg.Team}
	}
	var trSprints []tracker.Sprint
	for _, scope := range scopes {
		got, err := p.tr.FetchSprints(ctx, scope)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: fetching sprints: %w", p.name, err)
		}
		trSprints = append(trSprints, got...)
	}
	defs := sprintsByID(trSprints)

	seen := make(map[sync.Key]bool, len(trSprints))
	var source []*sync.Record
	for i := range trSprints {
		r := sync.RecordFromSprint(&trSprints[i])
		if seen[r.Key] {
			reportWarn(report, p.warn, "%s: duplicate sprint name %q, keeping the first", p.name, trSprints[i].Name)
			continue
		}
		seen[r.Key] = true
		source = append(source, r)
	}

	target, err := p.sprints.Records(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: fetching sprint pages: %w", p.name, err)
	}
	markSystem(target, sync.SystemTarget)

	if p.cfg.SprintsMergeByName {
		if err := checkSprintMerge(source, target); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", p.name, err)
		}
	}

	pass := &sync.Pass{
		Name:      p.name + ":sprints",
		Source:    staticSource(source),
		Target:    staticSource(target),
		TargetKey: sync.KeyFromTitle(sync.FieldTitle),
		Diff: sync.DiffConfig{
			Specs: sync.NewSpecTable(
				sync.FieldSpec{Name: sync.FieldTitle, Kind: sync.KindText, Authority: sync.AuthSourceToTarget},
				sync.FieldSpec{Name: sync.FieldState, Kind: sync.KindSelect, Authority: sync.AuthSourceToTarget},
				sync.FieldSpec{Name: sync.FieldDates, Kind: sync.KindDateRange, Authority: sync.AuthSourceToTarget},
			),
		},
		Applier:   &notion.Applier{DB: p.sprints},
		DryRun:    p.opts.DryRun,
		OnMessage: p.msg,
		OnWarning: p.warn,
	}
	rep, idx, err := pass.Run(ctx)
	report.Merge(rep)
	if err != nil {
		return nil, nil, err
	}
	return idx, defs, nil
}

// checkSprintMerge rejects a by-name merge when the existing page already
// carries different dates: silently shifting a sprint would corrupt every
// task planned against it.
func checkSprintMerge(source, target []*sync.Record) error {
	byName := make(map[sync.Key]*sync.Record, len(target))
	titleKey := sync.KeyFromTitle(sync.FieldTitle)
	for _, t := range target {
		if key, ok := titleKey(t); ok {
			byName[key] = t
		}
	}
	for _, s := range source {
		t, ok := byName[s.Key]
		if !ok {
			continue
		}
		current, _ := t.Field(sync.FieldDates).(sync.DateRange)
		want, _ := s.Field(sync.FieldDates).(sync.DateRange)
		if !current.Empty() && !current.Equal(want) {
			return &sync.ConfigurationError{
				Reason: fmt.Sprintf("cannot merge sprint %q, dates mismatch (%s != %s)",
					s.Key, current, want),
			}
		}
	}
	return nil
}

// runMilestones pushes milestone pages to their tracker issues. It returns
// the milestone page index (for task relation resolution) and the fetched
// milestone issues (for child enumeration).
func (p *projectSet) runMilestones(ctx context.Context, report *sync.Report) (*sync.Index, map[tracker.IssueRef]*tracker.Issue, error) {
	linkProp, _ := p.milestones.Schema.Property(sync.FieldIssueLink)
	filter := map[string]any{
		"property": linkProp.Name,
		"url":      map[string]any{"is_not_empty": true},
	}
	pages, err := p.milestones.Records(ctx, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: fetching milestone pages: %w", p.name, err)
	}
	markSystem(pages, sync.SystemSource)

	keyFn := linkKeyFunc(p.tr)
	var source []*sync.Record
	var refs []tracker.IssueRef
	for _, r := range pages {
		key, ok := keyFn(r)
		if !ok {
			reportWarn(report, p.warn, "%s: milestone page %s has an unparseable issue link, skipping", p.name, r.NativeID)
			report.Skipped++
			continue
		}
		ref, _ := p.tr.ParseRef(string(r.Field(sync.FieldIssueLink).(sync.Link)))
		if !p.repoAllowed(ref.Repo) {
			report.Skipped++
			continue
		}
		r.Key = key
		source = append(source, r)
		refs = append(refs, ref)
	}

	if p.bodySyncEnabled() {
		for _, r := range source {
			body, err := p.milestones.PageBody(ctx, r.NativeID)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: fetching milestone body %s: %w", p.name, r.NativeID, err)
			}
			r.SetField(sync.FieldBody, sync.Text(body))
		}
	}

	issues, err := p.tr.FetchIssues(ctx, refs)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: fetching milestone issues: %w", p.name, err)
	}
	var fetched []*tracker.Issue
	for _, issue := range issues {
		fetched = append(fetched, issue)
	}
	target := issueRecords(p.tr.Name(), fetched, p.users, nil, sync.SystemTarget)

	pass := &sync.Pass{
		Name:   p.name + ":milestones",
		Source: staticSource(source),
		Target: staticSource(target),
		Diff: sync.DiffConfig{
			Specs: p.milestoneSpecs(),
			// Pages whose issue disappeared from the tracker keep their
			// stale link; creation is the page author's decision.
			OnSourceOnly: sync.SourceOnlySkip,
		},
		Applier:   newTrackerApplier(p.tr, p.users, p.cfg.ClosedStateNames(), p.opts.TrackerDryRun),
		DryRun:    p.opts.TrackerDryRun,
		OnMessage: p.msg,
		OnWarning: p.warn,
	}
	rep, _, err := pass.Run(ctx)
	report.Merge(rep)
	if err != nil {
		return nil, nil, err
	}

	pageIdx, _, err := sync.BuildIndex(source, sync.KeyFromRecord)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: indexing milestone pages: %w", p.name, err)
	}
	return pageIdx, issues, nil
}

// milestoneSpecs is the push-direction field table: Notion is
// authoritative for everything it carries, with merge rules preserving
// what the tracker owns (community assignees, unrelated labels).
func (p *projectSet) milestoneSpecs() sync.SpecTable {
	isMapped := func(name string) bool {
		_, ok := p.users.Lookup(name)
		return ok
	}
	specs := []sync.FieldSpec{
		{Name: sync.FieldTitle, Kind: sync.KindText, Authority: sync.AuthSourceToTarget, Prefix: p.cfg.MilestonesTrackerPrefix},
		{Name: sync.FieldState, Kind: sync.KindSelect, Authority: sync.AuthSourceToTarget, Merge: p.stateMerge()},
		{Name: sync.FieldPriority, Kind: sync.KindSelect, Authority: sync.AuthSourceToTarget},
		{Name: sync.FieldAssignees, Kind: sync.KindPersons, Authority: sync.AuthSourceToTarget, Merge: sync.MergePreserveUnmapped(isMapped)},
		{Name: sync.FieldDates, Kind: sync.KindDateRange, Authority: sync.AuthSourceToTarget},
	}
	if p.cfg.MilestonesExtraLabel != "" {
		specs = append(specs, sync.FieldSpec{
			Name: sync.FieldLabels, Kind: sync.KindLabels, Authority: sync.AuthSourceToTarget,
			Merge: sync.MergeUnionLabels(p.cfg.MilestonesExtraLabel),
		})
	}
	if p.tr.Name() == "bugzilla" {
		// Only Bugzilla stores the backlink natively (see_also); GitHub has
		// no field for it, so pushing one would rediff forever.
		specs = append(specs, sync.FieldSpec{
			Name: sync.FieldNotionURL, Kind: sync.KindLink, Authority: sync.AuthSourceToTarget,
		})
	}
	if p.cfg.MilestonesBodySync {
		specs = append(specs, sync.FieldSpec{
			Name: sync.FieldBody, Kind: sync.KindText, Authority: sync.AuthSourceToTarget,
		})
	} else if p.cfg.MilestonesBodySyncIfEmpty {
		specs = append(specs, sync.FieldSpec{
			Name: sync.FieldBody, Kind: sync.KindText, Authority: sync.AuthSourceToTarget,
			Merge: sync.MergeIfEmpty,
		})
	}
	return sync.NewSpecTable(specs...)
}

// stateMerge adapts the workflow state comparison to the tracker. Trackers
// without native states (GitHub) compare in open/closed terms so a page
// status like "In progress" does not rediff forever; Bugzilla compares
// state names directly, tolerating the synthetic review state.
func (p *projectSet) stateMerge() sync.MergeFunc {
	closed := make(map[string]bool)
	for _, s := range p.cfg.ClosedStateNames() {
		closed[s] = true
	}
	return func(m sync.Match, authoritative, current sync.Value) sync.Value {
		want, ok := authoritative.(sync.Select)
		if !ok || want.Empty() {
			return current
		}
		cur, _ := current.(sync.Select)
		if cur.Empty() {
			// No native workflow: only the open/closed transition matters.
			targetClosed := false
			if m.Target != nil {
				d, ok := m.Target.Field(sync.FieldClosedAt).(sync.DateRange)
				targetClosed = ok && !d.Empty()
			}
			if closed[string(want)] == targetClosed {
				return current
			}
			return want
		}
		if cur == "IN REVIEW" && string(want) == "ASSIGNED" {
			// The review state is derived, not stored; pushing ASSIGNED
			// over it would fight the reviewer.
			return current
		}
		return authoritative
	}
}

// runTasks pulls tracker child issues into the tasks database.
func (p *projectSet) runTasks(
	ctx context.Context,
	report *sync.Report,
	milestonePages *sync.Index,
	milestoneIssues map[tracker.IssueRef]*tracker.Issue,
	sprintIdx *sync.Index,
	sprintDefs map[string]*tracker.Sprint,
) error {
	issues := make(map[tracker.IssueRef]*tracker.Issue)

	// Children of every milestone issue.
	if hs, ok := p.tr.(tracker.HierarchySource); ok {
		for ref := range milestoneIssues {
			children, err := hs.FetchSubIssues(ctx, ref)
			if err != nil {
				return fmt.Errorf("%s: fetching children of %s: %w", p.name, ref, err)
			}
			for _, child := range children {
				if prev, ok := issues[child.Ref]; ok {
					// A task under several milestones keeps all parents.
					child.Parents = append(child.Parents, prev.Parents...)
				}
				issues[child.Ref] = child
			}
		}
	}

	// Existing task pages keep syncing even after they leave a milestone.
	linkProp, _ := p.tasks.Schema.Property(sync.FieldIssueLink)
	filter := map[string]any{
		"property": linkProp.Name,
		"url":      map[string]any{"is_not_empty": true},
	}
	taskPages, err := p.tasks.Records(ctx, filter)
	if err != nil {
		return fmt.Errorf("%s: fetching task pages: %w", p.name, err)
	}
	markSystem(taskPages, sync.SystemTarget)

	var missing []tracker.IssueRef
	for _, page := range taskPages {
		link, ok := page.Field(sync.FieldIssueLink).(sync.Link)
		if !ok || link.Empty() {
			continue
		}
		ref, ok := p.tr.ParseRef(string(link))
		if !ok || !p.repoAllowed(ref.Repo) {
			continue
		}
		if _, have := issues[ref]; !have {
			missing = append(missing, ref)
		}
	}
	if len(missing) > 0 {
		fetched, err := p.tr.FetchIssues(ctx, missing)
		if err != nil {
			return fmt.Errorf("%s: fetching task issues: %w", p.name, err)
		}
		for ref, issue := range fetched {
			issues[ref] = issue
		}
	}

	var all []*tracker.Issue
	for _, issue := range issues {
		all = append(all, issue)
	}
	source := issueRecords(p.tr.Name(), all, p.users, sprintDefs, sync.SystemSource)

	milestoneResolver := sync.NewRelationResolver(milestonePages)
	rekeyRelations(taskPages, sync.FieldMilestone, milestoneResolver)
	relations := map[string]*sync.RelationResolver{
		sync.FieldMilestone: milestoneResolver,
	}
	if sprintIdx != nil {
		sprintResolver := sync.NewRelationResolver(sprintIdx)
		rekeyRelations(taskPages, sync.FieldSprint, sprintResolver)
		relations[sync.FieldSprint] = sprintResolver
	}

	applier := &notion.Applier{DB: p.tasks, Relations: relations}
	if p.cfg.TasksBodySync {
		applier.CreateChildren = []map[string]any{notion.WarningCallout(notion.BodyOverwriteWarning)}
		applier.CreateBodies = bodyTexts(source)
	}

	pass := &sync.Pass{
		Name:      p.name + ":tasks",
		Source:    staticSource(source),
		Target:    staticSource(taskPages),
		TargetKey: linkKeyFunc(p.tr),
		Diff: sync.DiffConfig{
			Specs:        p.taskSpecs(sprintIdx != nil),
			Relations:    relations,
			OnSourceOnly: sync.SourceOnlyCreate,
			OnTargetOnly: sync.TargetOnlyKeep,
		},
		Applier:   applier,
		DryRun:    p.opts.DryRun,
		OnMessage: p.msg,
		OnWarning: p.warn,
	}
	rep, _, err := pass.Run(ctx)
	report.Merge(rep)
	return err
}

// taskSpecs is the pull-direction field table: the tracker is
// authoritative for everything the task page mirrors.
func (p *projectSet) taskSpecs(withSprints bool) sync.SpecTable {
	specs := []sync.FieldSpec{
		{Name: sync.FieldTitle, Kind: sync.KindText, Authority: sync.AuthSourceToTarget, Prefix: p.cfg.TasksNotionPrefix},
		{Name: sync.FieldIssueLink, Kind: sync.KindLink, Authority: sync.AuthSourceToTarget},
		{Name: sync.FieldState, Kind: sync.KindSelect, Authority: sync.AuthSourceToTarget,
			Merge: sync.MergeStateFallback(sync.FieldClosedAt, p.cfg.OpenStateName(), p.cfg.ClosedStateNames())},
		{Name: sync.FieldPriority, Kind: sync.KindSelect, Authority: sync.AuthSourceToTarget},
		{Name: sync.FieldAssignees, Kind: sync.KindPersons, Authority: sync.AuthSourceToTarget},
		{Name: sync.FieldDates, Kind: sync.KindDateRange, Authority: sync.AuthSourceToTarget,
			Merge: sync.MergeTaskDates(p.cfg.ClosedStateNames(), p.warn)},
		{Name: sync.FieldMilestone, Kind: sync.KindRelations, Authority: sync.AuthSourceToTarget},
	}
	if withSprints {
		specs = append(specs, sync.FieldSpec{
			Name: sync.FieldSprint, Kind: sync.KindRelations, Authority: sync.AuthSourceToTarget,
		})
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
		if p.cfg.Property(spec.Name, "") != "" {
			specs = append(specs, spec)
		}
	}
	return sync.NewSpecTable(specs...)
}

func (p *projectSet) bodySyncEnabled() bool {
	return p.cfg.MilestonesBodySync || p.cfg.MilestonesBodySyncIfEmpty
}

// repoAllowed reports whether a parsed ref belongs to this set. An empty
// repository list (Bugzilla sets) allows everything the tracker owns.
func (p *projectSet) repoAllowed(repo string) bool {
	if len(p.cfg.Repositories) == 0 {
		return true
	}
	for _, r := range p.cfg.Repositories {
		if r == repo {
			return true
		}
	}
	return false
}
