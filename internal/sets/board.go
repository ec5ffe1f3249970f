package sets

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode"

	"github.com/notionsync/notionsync/internal/config"
	"github.com/notionsync/notionsync/internal/notion"
	"github.com/notionsync/notionsync/internal/sync"
)

// Board rollup states. Ingested bug databases reuse the same vocabulary.
const (
	boardNotStarted = "Not started"
	boardInProgress = "In progress"
	boardDone       = "Done"
)

// doneStates and inProgressStates map the status names source databases
// actually use onto the rollup buckets.
var (
	doneStates       = map[string]bool{"Done": true, "Canceled": true, "Cancelled": true}
	inProgressStates = map[string]bool{"In progress": true, "In Progress": true}
)

// boardSource describes one milestone database feeding the board: which
// team it belongs to and which properties carry the title and dates.
type boardSource struct {
	Area  string
	Title string
	Dates string
}

// boardSet is the rollup topology: both sides live in Notion. Each board
// row relates to milestone pages in per-team databases; the row's title,
// dates, status, and team are recomputed from those pages every pass.
type boardSet struct {
	name string
	cfg  *config.Set
	opts Options

	client *notion.Client
	board  *notion.Database

	// sources maps normalized database ids to their board source config.
	sources map[string]boardSource

	msg  func(format string, args ...any)
	warn func(format string, args ...any)
}

func newBoardSet(opts Options, client *notion.Client) *boardSet {
	cfg := opts.Set
	b := &boardSet{
		name:    opts.Name,
		cfg:     cfg,
		opts:    opts,
		client:  client,
		sources: make(map[string]boardSource, len(cfg.Boards)),
		msg:     message(opts.OnMessage),
		warn:    message(opts.OnWarning),
	}
	var areas []string
	for name, src := range cfg.Boards {
		area := capitalize(name)
		areas = append(areas, area)
		b.sources[notion.NormalizeID(src.Database)] = boardSource{
			Area:  area,
			Title: src.Title,
			Dates: src.Dates,
		}
	}
	sort.Strings(areas)
	b.board = notion.NewDatabase(client, cfg.NotionBoardID, boardSchema(cfg, areas))
	b.board.DryRun = opts.DryRun
	return b
}

func (b *boardSet) Validate(ctx context.Context) error {
	if len(b.sources) == 0 {
		return &sync.ConfigurationError{Reason: b.name + ": no board sources configured"}
	}
	if err := b.board.ValidateProps(ctx); err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	return nil
}

func (b *boardSet) Run(ctx context.Context) (*sync.Report, error) {
	report := &sync.Report{Pass: b.name}
	if err := b.Validate(ctx); err != nil {
		return report, err
	}
	started := time.Now().UTC()

	target, err := b.board.Records(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("%s: fetching board rows: %w", b.name, err)
	}
	markSystem(target, sync.SystemTarget)

	var source []*sync.Record
	for _, row := range target {
		row.Key = sync.Key(row.NativeID)
		rollup, err := b.rollup(ctx, row)
		if err != nil {
			report.RecordFailure(row.Key, err)
			continue
		}
		if rollup == nil {
			// No resolvable relations; the row is not ours to rewrite. The
			// pass counts it once as a kept target-only row.
			continue
		}
		source = append(source, rollup)
	}

	pass := &sync.Pass{
		Name:   b.name,
		Source: staticSource(source),
		Target: staticSource(target),
		Diff: sync.DiffConfig{
			Specs: sync.NewSpecTable(
				sync.FieldSpec{Name: sync.FieldTitle, Kind: sync.KindText, Authority: sync.AuthSourceToTarget},
				sync.FieldSpec{Name: sync.FieldDates, Kind: sync.KindDateRange, Authority: sync.AuthSourceToTarget},
				sync.FieldSpec{Name: sync.FieldState, Kind: sync.KindSelect, Authority: sync.AuthSourceToTarget},
				sync.FieldSpec{Name: sync.FieldTeam, Kind: sync.KindSelect, Authority: sync.AuthSourceToTarget},
			),
			OnSourceOnly: sync.SourceOnlySkip,
			OnTargetOnly: sync.TargetOnlyKeep,
		},
		Applier:   &notion.Applier{DB: b.board},
		DryRun:    b.opts.DryRun,
		OnMessage: b.msg,
		OnWarning: b.warn,
	}
	rep, _, err := pass.Run(ctx)
	report.Merge(rep)
	if err != nil {
		return report, err
	}

	if err := b.board.StampLastSync(ctx, b.name, started); err != nil {
		reportWarn(report, b.warn, "%s: stamping last sync: %v", b.name, err)
	}
	return report, nil
}

// rollup recomputes one board row from its related milestone pages. A nil
// record with nil error means the row has no relations into any configured
// source database and should be left untouched.
func (b *boardSet) rollup(ctx context.Context, row *sync.Record) (*sync.Record, error) {
	page, ok := row.Raw.(notion.Page)
	if !ok {
		return nil, fmt.Errorf("board row %s carries no page data", row.NativeID)
	}

	var (
		title      string
		area       string
		start, end *time.Time
		total      int
		done       int
		active     int
	)
	for _, prop := range page.Properties {
		if prop.Type != "relation" {
			continue
		}
		for _, ref := range prop.Relation {
			related, err := b.client.RetrievePage(ctx, ref.ID)
			if err != nil {
				return nil, fmt.Errorf("retrieving related page %s: %w", ref.ID, err)
			}
			src, ok := b.sources[notion.NormalizeID(related.Parent.DatabaseID)]
			if !ok {
				continue
			}
			total++
			if area == "" {
				area = src.Area
			}
			if title == "" {
				title = related.Properties[src.Title].Plain()
			}
			if s, e, ok := related.Properties[src.Dates].Dates(); ok {
				start = minTime(start, s)
				end = maxTime(end, e)
				if e == nil {
					end = maxTime(end, s)
				}
			}
			switch status := related.Properties[b.cfg.Property(sync.FieldState, defaultStatus)].OptionName(); {
			case doneStates[status]:
				done++
			case inProgressStates[status]:
				active++
			}
		}
	}
	if total == 0 {
		return nil, nil
	}

	status := boardNotStarted
	switch {
	case done == total:
		status = boardDone
	case done > 0 || active > 0:
		status = boardInProgress
	}

	r := &sync.Record{
		NativeID: row.NativeID,
		Key:      row.Key,
		System:   sync.SystemSource,
		Fields:   make(map[string]sync.Value),
	}
	if title != "" {
		r.Fields[sync.FieldTitle] = sync.Text(title)
	}
	r.Fields[sync.FieldDates] = sync.DateRange{Start: start, End: end}
	r.Fields[sync.FieldState] = sync.Select(status)
	r.Fields[sync.FieldTeam] = sync.Select(area)
	return r, nil
}

func minTime(a, b *time.Time) *time.Time {
	if a == nil || (b != nil && b.Before(*a)) {
		return b
	}
	return a
}

func maxTime(a, b *time.Time) *time.Time {
	if a == nil || (b != nil && b.After(*a)) {
		return b
	}
	return a
}

// capitalize upper-cases the first rune, matching how team names are
// written on the board.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
