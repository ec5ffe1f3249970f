// Package sync implements the reconciliation engine that keeps task and
// issue records consistent between Notion databases and external issue
// trackers.
//
// The core is pure: records carry typed logical values, field specs assign
// a sync authority per field, and the diff engine plans the minimal set of
// create/update operations. Network I/O happens only behind the Source and
// Applier interfaces, which is what keeps the engine testable without mock
// transports.
package sync

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValueKind enumerates the logical field types the engine understands.
type ValueKind int

const (
	KindText ValueKind = iota
	KindSelect
	KindNumber
	KindLink
	KindDateRange
	KindPersons
	KindRelations
	KindLabels
)

func (k ValueKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindSelect:
		return "select"
	case KindNumber:
		return "number"
	case KindLink:
		return "link"
	case KindDateRange:
		return "date_range"
	case KindPersons:
		return "persons"
	case KindRelations:
		return "relations"
	case KindLabels:
		return "labels"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is one typed logical field value. Equality is type-specific: text
// and select compare exact and case-sensitive, date ranges compare both
// bounds at minute precision, person/relation/label values compare as sets.
// Values of different kinds are never equal.
type Value interface {
	Kind() ValueKind
	Equal(Value) bool
	Empty() bool
	String() string
}

// Text is a plain text value (titles, descriptions, whiteboard fields).
type Text string

func (Text) Kind() ValueKind { return KindText }
func (t Text) Empty() bool   { return t == "" }
func (t Text) String() string {
	return string(t)
}
func (t Text) Equal(other Value) bool {
	o, ok := other.(Text)
	return ok && t == o
}

// Select is a single-select or status value. Matching against the
// configured vocabulary is case-sensitive and exact.
type Select string

func (Select) Kind() ValueKind { return KindSelect }
func (s Select) Empty() bool   { return s == "" }
func (s Select) String() string {
	return string(s)
}
func (s Select) Equal(other Value) bool {
	o, ok := other.(Select)
	return ok && s == o
}

// Link is a URL value.
type Link string

func (Link) Kind() ValueKind { return KindLink }
func (l Link) Empty() bool   { return l == "" }
func (l Link) String() string {
	return string(l)
}
func (l Link) Equal(other Value) bool {
	o, ok := other.(Link)
	return ok && l == o
}

// Number is a numeric value. Valid distinguishes zero from unset.
type Number struct {
	Val   float64
	Valid bool
}

// NumberOf returns a set Number.
func NumberOf(v float64) Number { return Number{Val: v, Valid: true} }

func (Number) Kind() ValueKind { return KindNumber }
func (n Number) Empty() bool   { return !n.Valid }
func (n Number) String() string {
	if !n.Valid {
		return ""
	}
	return fmt.Sprintf("%g", n.Val)
}
func (n Number) Equal(other Value) bool {
	o, ok := other.(Number)
	if !ok {
		return false
	}
	if !n.Valid || !o.Valid {
		return n.Valid == o.Valid
	}
	return n.Val == o.Val
}

// DateRange is a start/end pair. Start nil means the whole value is unset;
// End nil means an open-ended range (never a sentinel date). Comparisons
// truncate to minute precision because Notion drops seconds on write.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

func (DateRange) Kind() ValueKind { return KindDateRange }
func (d DateRange) Empty() bool   { return d.Start == nil }
func (d DateRange) String() string {
	if d.Start == nil {
		return ""
	}
	s := d.Start.Format("2006-01-02T15:04")
	if d.End == nil {
		return s
	}
	return s + ".." + d.End.Format("2006-01-02T15:04")
}
func (d DateRange) Equal(other Value) bool {
	o, ok := other.(DateRange)
	if !ok {
		return false
	}
	return timeEqualMinute(d.Start, o.Start) && timeEqualMinute(d.End, o.End)
}

func timeEqualMinute(a, b *time.Time) bool {
	if a == nil || b == nil {
		return (a == nil) == (b == nil)
	}
	return a.UTC().Truncate(time.Minute).Equal(b.UTC().Truncate(time.Minute))
}

// Person is one entry of a person-type value. Mapped persons carry the
// Notion user id; unmapped persons carry only the tracker handle in Name
// and degrade to text in output rather than failing the record.
type Person struct {
	NotionID string
	Name     string
}

// Persons is a person-reference value. Equality compares the mapped id set
// only: unmapped entries cannot round-trip through Notion people properties
// and would rediff forever if compared.
type Persons []Person

func (Persons) Kind() ValueKind { return KindPersons }
func (p Persons) Empty() bool   { return len(p) == 0 }
func (p Persons) String() string {
	parts := make([]string, 0, len(p))
	for _, m := range p {
		if m.NotionID != "" {
			parts = append(parts, m.NotionID)
		} else {
			parts = append(parts, m.Name)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
func (p Persons) Equal(other Value) bool {
	o, ok := other.(Persons)
	if !ok {
		return false
	}
	return stringSetEqual(p.mappedIDs(), o.mappedIDs())
}

func (p Persons) mappedIDs() []string {
	ids := make([]string, 0, len(p))
	for _, m := range p {
		if m.NotionID != "" {
			ids = append(ids, m.NotionID)
		}
	}
	return ids
}

// Unmapped returns the handles of entries without a Notion id.
func (p Persons) Unmapped() []string {
	var out []string
	for _, m := range p {
		if m.NotionID == "" {
			out = append(out, m.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Relations is a relation value holding resolved cross-system keys, never
// raw native ids, so comparisons stay invariant to native-id churn.
type Relations []Key

func (Relations) Kind() ValueKind { return KindRelations }
func (r Relations) Empty() bool   { return len(r) == 0 }
func (r Relations) String() string {
	parts := make([]string, len(r))
	for i, k := range r {
		parts[i] = string(k)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
func (r Relations) Equal(other Value) bool {
	o, ok := other.(Relations)
	if !ok {
		return false
	}
	a := make([]string, len(r))
	for i, k := range r {
		a[i] = string(k)
	}
	b := make([]string, len(o))
	for i, k := range o {
		b[i] = string(k)
	}
	return stringSetEqual(a, b)
}

// Labels is a label-set value.
type Labels []string

func (Labels) Kind() ValueKind { return KindLabels }
func (l Labels) Empty() bool   { return len(l) == 0 }
func (l Labels) String() string {
	c := append([]string(nil), l...)
	sort.Strings(c)
	return strings.Join(c, ",")
}
func (l Labels) Equal(other Value) bool {
	o, ok := other.(Labels)
	if !ok {
		return false
	}
	return stringSetEqual(l, o)
}

func stringSetEqual(a, b []string) bool {
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	as = dedup(as)
	bs = dedup(bs)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func dedup(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}

// valueEmpty reports emptiness for possibly-nil values.
func valueEmpty(v Value) bool {
	return v == nil || v.Empty()
}
