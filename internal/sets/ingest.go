package sets

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/notionsync/notionsync/internal/config"
	"github.com/notionsync/notionsync/internal/notion"
	"github.com/notionsync/notionsync/internal/sync"
	"github.com/notionsync/notionsync/internal/tracker"
)

// ingestStatuses is the default query window: every active state plus the
// recently closed ones, so bugs that just resolved flip to Done before
// they age out of the database.
var ingestStatuses = []string{"NEW", "ASSIGNED", "REOPENED", "RESOLVED", "VERIFIED", "CLOSED"}

// ingestSet is the ingestion topology: recently active Bugzilla bugs
// mirror into a flat Notion database keyed by bug number. The tracker is
// authoritative for every field and stale rows are archived.
type ingestSet struct {
	name string
	cfg  *config.Set
	opts Options

	tr    tracker.IssueTracker
	users *tracker.UserMap

	bugs *notion.Database

	msg  func(format string, args ...any)
	warn func(format string, args ...any)
}

func newIngestSet(opts Options, client *notion.Client, tr tracker.IssueTracker) *ingestSet {
	cfg := opts.Set
	s := &ingestSet{
		name:  opts.Name,
		cfg:   cfg,
		opts:  opts,
		tr:    tr,
		users: opts.Users.For(tr.Name()),
		msg:   message(opts.OnMessage),
		warn:  message(opts.OnWarning),
	}
	s.bugs = notion.NewDatabase(client, cfg.NotionBugsID, bugsSchema(cfg))
	s.bugs.DryRun = opts.DryRun
	return s
}

func (s *ingestSet) Validate(ctx context.Context) error {
	if err := s.tr.Validate(ctx); err != nil {
		return fmt.Errorf("%s: tracker: %w", s.name, err)
	}
	if err := s.bugs.ValidateProps(ctx); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return nil
}

func (s *ingestSet) Run(ctx context.Context) (*sync.Report, error) {
	report := &sync.Report{Pass: s.name}
	if err := s.Validate(ctx); err != nil {
		return report, err
	}
	started := time.Now().UTC()
	cutoff := started.AddDate(0, 0, -s.cfg.Window())

	statuses := s.cfg.Statuses
	if len(statuses) == 0 {
		statuses = ingestStatuses
	}
	issues, err := s.tr.FetchRepoIssues(ctx, strings.Join(s.cfg.Products, ","), tracker.FetchOptions{
		States:      statuses,
		ActiveSince: &cutoff,
		Limit:       s.cfg.Limit,
	})
	if err != nil {
		return report, fmt.Errorf("%s: fetching bugs: %w", s.name, err)
	}

	var source []*sync.Record
	for _, issue := range issues {
		if skipBug(issue, cutoff) {
			continue
		}
		source = append(source, bugRecord(issue))
	}

	target, err := s.bugs.Records(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("%s: fetching bug pages: %w", s.name, err)
	}
	markSystem(target, sync.SystemTarget)
	target, err = s.dedupeTarget(ctx, report, target)
	if err != nil {
		return report, err
	}

	pass := &sync.Pass{
		Name:      s.name,
		Source:    staticSource(source),
		Target:    staticSource(target),
		TargetKey: bugNumberKey,
		Diff: sync.DiffConfig{
			Specs:        s.bugSpecs(),
			OnSourceOnly: sync.SourceOnlyCreate,
			OnTargetOnly: sync.TargetOnlyArchive,
		},
		Applier:   &notion.Applier{DB: s.bugs},
		DryRun:    s.opts.DryRun,
		OnMessage: s.msg,
		OnWarning: s.warn,
	}
	rep, _, err := pass.Run(ctx)
	report.Merge(rep)
	if err != nil {
		return report, err
	}

	if err := s.bugs.StampLastSync(ctx, s.name, started); err != nil {
		reportWarn(report, s.warn, "%s: stamping last sync: %v", s.name, err)
	}
	return report, nil
}

func (s *ingestSet) bugSpecs() sync.SpecTable {
	return sync.NewSpecTable(
		sync.FieldSpec{Name: sync.FieldTitle, Kind: sync.KindText, Authority: sync.AuthSourceToTarget},
		sync.FieldSpec{Name: sync.FieldNumber, Kind: sync.KindNumber, Authority: sync.AuthSourceToTarget},
		sync.FieldSpec{Name: sync.FieldIssueLink, Kind: sync.KindLink, Authority: sync.AuthSourceToTarget},
		sync.FieldSpec{Name: sync.FieldState, Kind: sync.KindSelect, Authority: sync.AuthSourceToTarget},
		sync.FieldSpec{Name: sync.FieldTextAssignees, Kind: sync.KindLabels, Authority: sync.AuthSourceToTarget},
		sync.FieldSpec{Name: sync.FieldProduct, Kind: sync.KindSelect, Authority: sync.AuthSourceToTarget},
		sync.FieldSpec{Name: sync.FieldComponent, Kind: sync.KindText, Authority: sync.AuthSourceToTarget},
		sync.FieldSpec{Name: sync.FieldVersion, Kind: sync.KindText, Authority: sync.AuthSourceToTarget},
		sync.FieldSpec{Name: sync.FieldLabels, Kind: sync.KindLabels, Authority: sync.AuthSourceToTarget},
		sync.FieldSpec{Name: sync.FieldWhiteboard, Kind: sync.KindText, Authority: sync.AuthSourceToTarget},
	)
}

// skipBug drops bugs the database should retire: unconfirmed reports,
// duplicates, and bugs resolved before the activity window. Dropping them
// from the source lets the archive policy clean up their pages.
func skipBug(issue *tracker.Issue, cutoff time.Time) bool {
	switch {
	case issue.State == "UNCONFIRMED":
		return true
	case issue.Resolution == "DUPLICATE" || issue.DuplicateOf != nil:
		return true
	case issue.State == "RESOLVED" || issue.State == "VERIFIED":
		return issue.ClosedAt != nil && issue.ClosedAt.Before(cutoff)
	}
	return false
}

// bugRecord reduces a bug to the flat database's fields. The key is the
// bug number, the one identity that survives everything Bugzilla does to
// a bug.
func bugRecord(issue *tracker.Issue) *sync.Record {
	num := issue.Ref.Number
	r := &sync.Record{
		NativeID: issue.Ref.String(),
		Key:      sync.Key(strconv.Itoa(num)),
		System:   sync.SystemSource,
		Fields:   make(map[string]sync.Value),
		Raw:      issue,
	}
	r.Fields[sync.FieldTitle] = sync.Text(fmt.Sprintf("%d - %s", num, issue.Title))
	r.Fields[sync.FieldNumber] = sync.NumberOf(float64(num))
	r.Fields[sync.FieldIssueLink] = sync.Link(issue.URL)
	r.Fields[sync.FieldState] = sync.Select(bugStatus(issue))
	r.Fields[sync.FieldTextAssignees] = sync.Labels(issue.Assignees)
	r.Fields[sync.FieldProduct] = sync.Select(issue.Product)
	r.Fields[sync.FieldComponent] = sync.Text(issue.Component)
	r.Fields[sync.FieldVersion] = sync.Text(issue.Version)
	r.Fields[sync.FieldLabels] = sync.Labels(issue.Labels)
	r.Fields[sync.FieldWhiteboard] = sync.Text(issue.Whiteboard)
	return r
}

// bugStatus rolls the Bugzilla workflow up to the three board states.
func bugStatus(issue *tracker.Issue) string {
	switch issue.State {
	case "RESOLVED", "VERIFIED":
		return boardDone
	}
	if len(issue.Assignees) > 0 {
		return boardInProgress
	}
	return boardNotStarted
}

// bugNumberKey keys a bug page by its number property.
func bugNumberKey(r *sync.Record) (sync.Key, bool) {
	n, ok := r.Field(sync.FieldNumber).(sync.Number)
	if !ok || !n.Valid {
		return "", false
	}
	return sync.Key(strconv.Itoa(int(n.Val))), true
}

// dedupeTarget archives pages that share a bug number with an earlier
// page, keeping the first. Duplicates appear when two passes raced a
// create; left alone they would make indexing fatal forever.
func (s *ingestSet) dedupeTarget(ctx context.Context, report *sync.Report, target []*sync.Record) ([]*sync.Record, error) {
	seen := make(map[sync.Key]bool, len(target))
	kept := target[:0]
	for _, r := range target {
		key, ok := bugNumberKey(r)
		if ok && seen[key] {
			reportWarn(report, s.warn, "%s: duplicate page for bug %s, archiving %s", s.name, key, r.NativeID)
			if !s.opts.DryRun {
				if err := s.bugs.Client.ArchivePage(ctx, r.NativeID); err != nil {
					return nil, fmt.Errorf("%s: archiving duplicate %s: %w", s.name, r.NativeID, err)
				}
			}
			report.Archived++
			continue
		}
		if ok {
			seen[key] = true
		}
		kept = append(kept, r)
	}
	return kept, nil
}
