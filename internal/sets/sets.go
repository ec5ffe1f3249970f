// Package sets wires repository sets: it binds one [sync.<name>] config
// block to its tracker, its Notion databases, and the reconciliation
// passes its method requires.
package sets

import (
	"context"
	"fmt"

	"github.com/notionsync/notionsync/internal/config"
	"github.com/notionsync/notionsync/internal/notion"
	"github.com/notionsync/notionsync/internal/sync"
	"github.com/notionsync/notionsync/internal/tracker"
)

// Runner is one ready-to-run repository set.
type Runner interface {
	// Run executes the set's passes and returns the merged report. The
	// error is fatal (configuration, indexing); per-record failures are
	// carried in the report instead.
	Run(ctx context.Context) (*sync.Report, error)

	// Validate checks Notion schemas and tracker access without writing.
	Validate(ctx context.Context) error
}

// Options carries everything needed to build a set.
type Options struct {
	Name     string
	Set      *config.Set
	Settings *config.Settings
	Users    config.UserMaps

	// DryRun disables Notion writes; TrackerDryRun disables tracker writes.
	DryRun        bool
	TrackerDryRun bool

	OnMessage func(format string, args ...any)
	OnWarning func(format string, args ...any)
}

// New builds the runner for one configured set.
func New(ctx context.Context, opts Options) (Runner, error) {
	if opts.Set == nil {
		return nil, &sync.ConfigurationError{Reason: "set " + opts.Name + " has no configuration"}
	}
	opts.DryRun = opts.DryRun || opts.Settings.Dry
	opts.TrackerDryRun = opts.TrackerDryRun || opts.Set.TrackerDryRun || opts.Settings.Dry

	client, err := NotionClient(ctx, opts.Settings)
	if err != nil {
		return nil, err
	}

	switch opts.Set.Method {
	case config.MethodGitHubProject, config.MethodBugzillaProject:
		tr, err := buildTracker(ctx, opts)
		if err != nil {
			return nil, err
		}
		return newProjectSet(opts, client, tr), nil
	case config.MethodGitHubLabels:
		tr, err := buildTracker(ctx, opts)
		if err != nil {
			return nil, err
		}
		return newLabelSet(opts, client, tr), nil
	case config.MethodBugzilla:
		tr, err := buildTracker(ctx, opts)
		if err != nil {
			return nil, err
		}
		return newIngestSet(opts, client, tr), nil
	case config.MethodProjectBoard:
		return newBoardSet(opts, client), nil
	default:
		return nil, &sync.ConfigurationError{
			Reason: fmt.Sprintf("set %s: unknown method %q", opts.Name, opts.Set.Method),
		}
	}
}

// NotionClient builds the API client from the notion.token config key,
// with NOTION_TOKEN as the environment fallback.
func NotionClient(ctx context.Context, settings *config.Settings) (*notion.Client, error) {
	cfg := tracker.NewConfig(ctx, "notion", settings.TrackerStore())
	token, err := cfg.GetRequired("token")
	if err != nil {
		return nil, err
	}
	client := notion.NewClient(token)
	if base, _ := cfg.Get("base_url"); base != "" {
		client = client.WithBaseURL(base)
	}
	return client, nil
}

// buildTracker constructs and configures the tracker plugin the set's
// method requires. Per-set overrides (bugzilla_base) layer over the global
// [config] table.
func buildTracker(ctx context.Context, opts Options) (tracker.IssueTracker, error) {
	name := opts.Set.TrackerName()
	tr, err := tracker.New(name)
	if err != nil {
		return nil, err
	}
	store := tracker.ConfigStore(opts.Settings.TrackerStore())
	if opts.Set.BugzillaBase != "" {
		store = overlayStore{
			overrides: map[string]string{"bugzilla.base_url": opts.Set.BugzillaBase},
			base:      store,
		}
	}
	if err := tr.Configure(tracker.NewConfig(ctx, tr.ConfigPrefix(), store)); err != nil {
		return nil, err
	}
	return tr, nil
}

// overlayStore layers per-set overrides over the settings-wide config.
type overlayStore struct {
	overrides map[string]string
	base      tracker.ConfigStore
}

func (o overlayStore) GetConfig(ctx context.Context, key string) (string, error) {
	if v, ok := o.overrides[key]; ok {
		return v, nil
	}
	return o.base.GetConfig(ctx, key)
}

func (o overlayStore) GetAllConfig(ctx context.Context) (map[string]string, error) {
	all, err := o.base.GetAllConfig(ctx)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(all)+len(o.overrides))
	for k, v := range all {
		merged[k] = v
	}
	for k, v := range o.overrides {
		merged[k] = v
	}
	return merged, nil
}

// staticSource serves records fetched ahead of the pass. Topologies stage
// their fetches so one download can feed several passes.
func staticSource(records []*sync.Record) sync.RecordSourceFunc {
	return func(context.Context) ([]*sync.Record, error) {
		return records, nil
	}
}

// markSystem stamps every record with its side.
func markSystem(records []*sync.Record, system sync.System) []*sync.Record {
	for _, r := range records {
		r.System = system
	}
	return records
}

// rekeyRelations translates a relation field from page-id space into key
// space using the parent index, so both sides diff in the same value space.
func rekeyRelations(records []*sync.Record, field string, resolver *sync.RelationResolver) {
	for _, r := range records {
		rels, ok := r.Field(field).(sync.Relations)
		if !ok {
			continue
		}
		ids := make([]string, len(rels))
		for i, k := range rels {
			ids[i] = string(k)
		}
		r.SetField(field, resolver.KeysForNativeIDs(ids))
	}
}

func nop(format string, args ...any) {}

// bodyTexts collects each source record's body text, keyed for page
// creation.
func bodyTexts(records []*sync.Record) map[sync.Key]string {
	out := make(map[sync.Key]string, len(records))
	for _, r := range records {
		if t, ok := r.Field(sync.FieldBody).(sync.Text); ok && t != "" {
			out[r.Key] = string(t)
		}
	}
	return out
}

// reportWarn records a set-level warning on the report and streams it to
// the set's warning callback.
func reportWarn(report *sync.Report, warn func(string, ...any), format string, args ...any) {
	report.Warn(format, args...)
	warn(format, args...)
}

func message(f func(string, ...any)) func(string, ...any) {
	if f == nil {
		return nop
	}
	return f
}
