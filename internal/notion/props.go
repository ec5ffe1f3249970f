package notion

import (
	"fmt"
	"strings"
	"time"

	"github.com/notionsync/notionsync/internal/sync"
)

// Property binds one logical field to a Notion database property: its
// native name, its Notion type, and the encode/decode pair translating
// between the property payload and the engine's typed values.
//
// The set semantics live in the value types; codecs only change shape.
type Property struct {
	// Field is the logical field name used in sync.Record.Fields.
	Field string

	// Name is the property name on the Notion database.
	Name string

	// Type is the Notion property type ("title", "select", "date", ...).
	Type string

	// Options is the configured vocabulary for select-like properties.
	// Values outside it fail encoding with a MappingError.
	Options []string

	// RelatedDB is the target database id for relation properties.
	RelatedDB string

	// Dual marks a bi-directional relation.
	Dual bool
}

// Title is the page title property. Every database has exactly one.
func Title(field, name string) Property {
	return Property{Field: field, Name: name, Type: "title"}
}

// Text is a plain rich text property.
func Text(field, name string) Property {
	return Property{Field: field, Name: name, Type: "rich_text"}
}

// TextSet is a rich text property holding a space-delimited set of words,
// used for assignees that have no Notion account.
func TextSet(field, name string) Property {
	return Property{Field: field, Name: name, Type: "rich_text_set"}
}

// Select is a single select with a fixed vocabulary.
func Select(field, name string, options ...string) Property {
	return Property{Field: field, Name: name, Type: "select", Options: options}
}

// Status is the status dropdown. Notion does not allow creating it via the
// API; validation only checks it exists with the configured options.
func Status(field, name string, options ...string) Property {
	return Property{Field: field, Name: name, Type: "status", Options: options}
}

// MultiSelect is a multi select with a fixed vocabulary. An empty options
// list accepts any value.
func MultiSelect(field, name string, options ...string) Property {
	return Property{Field: field, Name: name, Type: "multi_select", Options: options}
}

// Date is a date property carrying a start and optional end.
func Date(field, name string) Property {
	return Property{Field: field, Name: name, Type: "date"}
}

// People is a person-assignment property.
func People(field, name string) Property {
	return Property{Field: field, Name: name, Type: "people"}
}

// Relation links pages to another database.
func Relation(field, name, relatedDB string, dual bool) Property {
	return Property{Field: field, Name: name, Type: "relation", RelatedDB: relatedDB, Dual: dual}
}

// URL is a link property.
func URL(field, name string) Property {
	return Property{Field: field, Name: name, Type: "url"}
}

// Number is a numeric property.
func Number(field, name string) Property {
	return Property{Field: field, Name: name, Type: "number"}
}

// notionType is the type string the API reports for this property.
func (p Property) notionType() string {
	if p.Type == "rich_text_set" {
		return "rich_text"
	}
	return p.Type
}

// vocabulary wraps the configured options for MappingError reporting.
func (p Property) vocabulary() sync.Vocabulary {
	return sync.NewVocabulary(p.Field, p.Options...)
}

// Encode renders a logical value as the property's API payload fragment.
// Empty values encode as the property's cleared form, never as a sentinel.
// Relation values must already be in page-id space.
func (p Property) Encode(v sync.Value) (any, error) {
	switch p.Type {
	case "title":
		return map[string]any{"title": richTextPayload(textOf(v))}, nil
	case "rich_text":
		return map[string]any{"rich_text": richTextPayload(textOf(v))}, nil
	case "rich_text_set":
		labels, _ := v.(sync.Labels)
		return map[string]any{"rich_text": richTextPayload(strings.Join(labels, " "))}, nil
	case "number":
		n, ok := v.(sync.Number)
		if !ok || !n.Valid {
			return map[string]any{"number": nil}, nil
		}
		return map[string]any{"number": n.Val}, nil
	case "select", "status":
		s, _ := v.(sync.Select)
		if err := p.vocabulary().Check(string(s)); err != nil {
			return nil, err
		}
		if s == "" {
			return map[string]any{p.Type: nil}, nil
		}
		return map[string]any{p.Type: map[string]any{"name": string(s)}}, nil
	case "multi_select":
		labels, _ := v.(sync.Labels)
		vocab := p.vocabulary()
		values := make([]map[string]any, 0, len(labels))
		for _, l := range labels {
			if len(p.Options) > 0 {
				if err := vocab.Check(l); err != nil {
					return nil, err
				}
			}
			values = append(values, map[string]any{"name": l})
		}
		return map[string]any{"multi_select": values}, nil
	case "date":
		d, _ := v.(sync.DateRange)
		if d.Start == nil {
			return map[string]any{"date": nil}, nil
		}
		payload := map[string]any{"start": formatDate(*d.Start)}
		if d.End != nil {
			payload["end"] = formatDate(*d.End)
		} else {
			payload["end"] = nil
		}
		return map[string]any{"date": payload}, nil
	case "people":
		persons, _ := v.(sync.Persons)
		users := make([]map[string]any, 0, len(persons))
		for _, person := range persons {
			if person.NotionID == "" {
				// Unmapped people cannot be assigned; they ride along in
				// the text assignee property instead.
				continue
			}
			users = append(users, map[string]any{"object": "user", "id": person.NotionID})
		}
		return map[string]any{"people": users}, nil
	case "relation":
		rels, _ := v.(sync.Relations)
		refs := make([]map[string]any, 0, len(rels))
		for _, id := range rels {
			refs = append(refs, map[string]any{"id": NormalizeID(string(id))})
		}
		return map[string]any{"relation": refs}, nil
	case "url":
		l, _ := v.(sync.Link)
		if l == "" {
			return map[string]any{"url": nil}, nil
		}
		return map[string]any{"url": string(l)}, nil
	default:
		return nil, fmt.Errorf("notion: property %s has unsupported type %s", p.Name, p.Type)
	}
}

// Decode translates the raw property value back into a logical value.
func (p Property) Decode(pv PropertyValue) (sync.Value, error) {
	switch p.Type {
	case "title":
		return sync.Text(plainText(pv.Title)), nil
	case "rich_text":
		return sync.Text(plainText(pv.RichText)), nil
	case "rich_text_set":
		return sync.Labels(strings.Fields(plainText(pv.RichText))), nil
	case "number":
		if pv.Number == nil {
			return sync.Number{}, nil
		}
		return sync.NumberOf(*pv.Number), nil
	case "select":
		if pv.Select == nil {
			return sync.Select(""), nil
		}
		return sync.Select(pv.Select.Name), nil
	case "status":
		if pv.Status == nil {
			return sync.Select(""), nil
		}
		return sync.Select(pv.Status.Name), nil
	case "multi_select":
		labels := make(sync.Labels, 0, len(pv.MultiSelect))
		for _, opt := range pv.MultiSelect {
			labels = append(labels, opt.Name)
		}
		return labels, nil
	case "date":
		if pv.Date == nil || pv.Date.Start == "" {
			return sync.DateRange{}, nil
		}
		start, err := parseDate(pv.Date.Start)
		if err != nil {
			return nil, fmt.Errorf("notion: property %s: %w", p.Name, err)
		}
		d := sync.DateRange{Start: &start}
		if pv.Date.End != nil && *pv.Date.End != "" {
			end, err := parseDate(*pv.Date.End)
			if err != nil {
				return nil, fmt.Errorf("notion: property %s: %w", p.Name, err)
			}
			d.End = &end
		}
		return d, nil
	case "people":
		persons := make(sync.Persons, 0, len(pv.People))
		for _, u := range pv.People {
			persons = append(persons, sync.Person{NotionID: u.ID})
		}
		return persons, nil
	case "relation":
		rels := make(sync.Relations, 0, len(pv.Relation))
		for _, ref := range pv.Relation {
			rels = append(rels, sync.Key(NormalizeID(ref.ID)))
		}
		return rels, nil
	case "url":
		if pv.URL == nil {
			return sync.Link(""), nil
		}
		return sync.Link(*pv.URL), nil
	default:
		return nil, fmt.Errorf("notion: property %s has unsupported type %s", p.Name, p.Type)
	}
}

func textOf(v sync.Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func richTextPayload(s string) []map[string]any {
	if s == "" {
		return []map[string]any{}
	}
	return []map[string]any{{"text": map[string]any{"content": s}}}
}

// formatDate renders midnight-UTC times as bare dates so Notion keeps them
// date-only, and everything else as RFC 3339.
func formatDate(t time.Time) string {
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

// NormalizeID strips the dashes Notion sometimes includes in page ids so
// the same page always indexes under one spelling.
func NormalizeID(id string) string {
	return strings.ReplaceAll(id, "-", "")
}
