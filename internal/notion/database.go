package notion

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/notionsync/notionsync/internal/sync"
)

// Schema is the set of properties a sync pass reads and writes on one
// database. Properties not in the schema are never touched.
type Schema struct {
	props   []Property
	byField map[string]int
}

// NewSchema builds a schema from properties in declaration order.
func NewSchema(props ...Property) Schema {
	s := Schema{
		props:   append([]Property(nil), props...),
		byField: make(map[string]int, len(props)),
	}
	for i, p := range s.props {
		s.byField[p.Field] = i
	}
	return s
}

// Property returns the property bound to a logical field.
func (s Schema) Property(field string) (Property, bool) {
	i, ok := s.byField[field]
	if !ok {
		return Property{}, false
	}
	return s.props[i], true
}

// Properties returns the schema's properties in declaration order.
func (s Schema) Properties() []Property {
	return s.props
}

// Database binds a database id to its schema and client.
type Database struct {
	ID     string
	Client *Client
	Schema Schema
	DryRun bool
}

// NewDatabase wraps a database id with its schema.
func NewDatabase(client *Client, id string, schema Schema) *Database {
	return &Database{ID: NormalizeID(id), Client: client, Schema: schema}
}

// Pages returns all pages matching the filter, pagination fully drained.
// Archived pages are dropped; they are retired, not part of the pass.
func (d *Database) Pages(ctx context.Context, filter any) ([]Page, error) {
	pages, err := d.Client.QueryDatabase(ctx, d.ID, filter)
	if err != nil {
		return nil, err
	}
	live := pages[:0]
	for _, p := range pages {
		if !p.Archived {
			live = append(live, p)
		}
	}
	return live, nil
}

// RecordFromPage decodes a page into a logical record through the schema.
// The page URL is kept as the notion_url field so pushes can write the
// backlink, and the raw page rides along for appliers.
func (d *Database) RecordFromPage(page Page) (*sync.Record, error) {
	r := &sync.Record{
		NativeID: NormalizeID(page.ID),
		Fields:   make(map[string]sync.Value, len(d.Schema.props)+1),
		Raw:      page,
	}
	for _, prop := range d.Schema.props {
		pv, ok := page.Properties[prop.Name]
		if !ok {
			continue
		}
		v, err := prop.Decode(pv)
		if err != nil {
			return nil, fmt.Errorf("page %s: %w", page.ID, err)
		}
		r.Fields[prop.Field] = v
	}
	if page.URL != "" {
		r.Fields[sync.FieldNotionURL] = sync.Link(page.URL)
	}
	return r, nil
}

// Records fetches and decodes all pages matching the filter.
func (d *Database) Records(ctx context.Context, filter any) ([]*sync.Record, error) {
	pages, err := d.Pages(ctx, filter)
	if err != nil {
		return nil, err
	}
	records := make([]*sync.Record, 0, len(pages))
	for _, page := range pages {
		r, err := d.RecordFromPage(page)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// PageBody fetches a page's content blocks and renders them as markdown.
func (d *Database) PageBody(ctx context.Context, pageID string) (string, error) {
	blocks, err := d.Client.ListBlocks(ctx, pageID)
	if err != nil {
		return "", err
	}
	return BlocksToMarkdown(blocks), nil
}

// EncodeFields renders logical values as the page properties payload.
// Relation values must already be translated to page-id space.
func (d *Database) EncodeFields(fields map[string]sync.Value) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop, ok := d.Schema.Property(name)
		if !ok {
			continue
		}
		encoded, err := prop.Encode(fields[name])
		if err != nil {
			return nil, err
		}
		out[prop.Name] = encoded
	}
	return out, nil
}

// ValidateProps checks the remote database schema against the configured
// one before a pass: every property must exist with the right type, and
// select-like properties must carry at least the configured options. A
// mismatch is a ConfigurationError because writes against a wrong schema
// cannot be trusted.
func (d *Database) ValidateProps(ctx context.Context) error {
	remote, err := d.Client.RetrieveDatabase(ctx, d.ID)
	if err != nil {
		return err
	}
	for _, prop := range d.Schema.props {
		schema, ok := remote.Properties[prop.Name]
		if !ok {
			return &sync.ConfigurationError{
				Reason: fmt.Sprintf("database %s is missing property %q", d.ID, prop.Name),
			}
		}
		if schema.Type != prop.notionType() {
			return &sync.ConfigurationError{
				Reason: fmt.Sprintf("database %s property %q has type %s, want %s",
					d.ID, prop.Name, schema.Type, prop.notionType()),
			}
		}
		if missing := missingOptions(prop, schema); len(missing) > 0 {
			return &sync.ConfigurationError{
				Reason: fmt.Sprintf("database %s property %q is missing options %s",
					d.ID, prop.Name, strings.Join(missing, ", ")),
			}
		}
	}
	return nil
}

func missingOptions(prop Property, schema PropertySchema) []string {
	if len(prop.Options) == 0 {
		return nil
	}
	var remote []SelectOption
	switch {
	case schema.Select != nil:
		remote = schema.Select.Options
	case schema.MultiSelect != nil:
		remote = schema.MultiSelect.Options
	case schema.Status != nil:
		remote = schema.Status.Options
	}
	have := make(map[string]bool, len(remote))
	for _, opt := range remote {
		have[opt.Name] = true
	}
	var missing []string
	for _, opt := range prop.Options {
		if !have[opt] {
			missing = append(missing, opt)
		}
	}
	return missing
}

const lastSyncMessage = "Last Issue Tracker Sync (%s): %s"

var lastSyncTimestamp = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`)

// StampLastSync rewrites the "Last Issue Tracker Sync" line in the database
// description, prepending one when absent.
func (d *Database) StampLastSync(ctx context.Context, setName string, ts time.Time) error {
	if d.DryRun {
		return nil
	}
	remote, err := d.Client.RetrieveDatabase(ctx, d.ID)
	if err != nil {
		return err
	}
	description := remote.DescriptionText()

	stamp := fmt.Sprintf(lastSyncMessage, setName, ts.UTC().Format("2006-01-02T15:04:05Z"))
	pattern := regexp.MustCompile(
		strings.ReplaceAll(
			regexp.QuoteMeta(fmt.Sprintf(lastSyncMessage, setName, "\x00")),
			regexp.QuoteMeta("\x00"), lastSyncTimestamp.String()))

	if pattern.MatchString(description) {
		description = pattern.ReplaceAllString(description, stamp)
	} else if description == "" {
		description = stamp
	} else {
		description = stamp + "\n\n" + description
	}
	return d.Client.UpdateDatabaseDescription(ctx, d.ID, description)
}

// Applier writes planned operations to the database. Relation fields are
// translated from key space to page-id space through the pass's resolvers;
// update payloads carry only the changed fields.
type Applier struct {
	DB        *Database
	Relations map[string]*sync.RelationResolver

	// CreateChildren are body blocks appended to created pages, used for
	// the overwrite warning callout.
	CreateChildren []map[string]any

	// CreateBodies holds per-key body text rendered as paragraphs beneath
	// CreateChildren at creation. Bodies are never rewritten on update, so
	// page edits made after the first sync survive.
	CreateBodies map[sync.Key]string
}

// Apply implements sync.Applier.
func (a *Applier) Apply(ctx context.Context, op sync.Operation) (string, error) {
	fields := a.translateRelations(op.Fields)
	switch op.Kind {
	case sync.OpCreate:
		properties, err := a.DB.EncodeFields(fields)
		if err != nil {
			return "", err
		}
		if a.DB.DryRun {
			return "", nil
		}
		children := a.CreateChildren
		if body := a.CreateBodies[op.Key]; body != "" {
			children = append(append([]map[string]any(nil), children...), BodyParagraphs(body)...)
		}
		page, err := a.DB.Client.CreatePage(ctx, a.DB.ID, properties, children)
		if err != nil {
			return "", &sync.ApplyError{Key: op.Key, Transient: isTransient(err), Err: err}
		}
		return NormalizeID(page.ID), nil
	case sync.OpUpdate:
		properties, err := a.DB.EncodeFields(fields)
		if err != nil {
			return "", err
		}
		if a.DB.DryRun {
			return "", nil
		}
		if err := a.DB.Client.UpdatePage(ctx, op.NativeID, properties); err != nil {
			return "", &sync.ApplyError{Key: op.Key, Transient: isTransient(err), Err: err}
		}
		return op.NativeID, nil
	case sync.OpArchive:
		if a.DB.DryRun {
			return "", nil
		}
		if err := a.DB.Client.ArchivePage(ctx, op.NativeID); err != nil {
			return "", &sync.ApplyError{Key: op.Key, Transient: isTransient(err), Err: err}
		}
		return op.NativeID, nil
	default:
		return "", nil
	}
}

// translateRelations maps relation values from resolved keys to the parent
// pages' native ids. Fields without a resolver pass through untouched
// (board rollup relations are already page ids).
func (a *Applier) translateRelations(fields map[string]sync.Value) map[string]sync.Value {
	if len(a.Relations) == 0 {
		return fields
	}
	out := make(map[string]sync.Value, len(fields))
	for name, v := range fields {
		resolver := a.Relations[name]
		rels, ok := v.(sync.Relations)
		if resolver == nil || !ok {
			out[name] = v
			continue
		}
		ids := resolver.NativeIDs(rels)
		translated := make(sync.Relations, len(ids))
		for i, id := range ids {
			translated[i] = sync.Key(id)
		}
		out[name] = translated
	}
	return out
}

func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Transport errors that survived the retry budget stay retryable on
	// the next scheduled pass.
	return true
}
