package sync

import (
	"sort"
	"time"

	"github.com/notionsync/notionsync/internal/tracker"
)

// Vocabulary is the configured value set for one select field. Matching is
// exact and case-sensitive; an unmapped value is a MappingError naming the
// literal, never a silent drop or a guess.
type Vocabulary struct {
	Field  string
	Values []string
}

// NewVocabulary builds a vocabulary for a field.
func NewVocabulary(field string, values ...string) Vocabulary {
	return Vocabulary{Field: field, Values: append([]string(nil), values...)}
}

// Contains reports exact membership.
func (v Vocabulary) Contains(value string) bool {
	for _, allowed := range v.Values {
		if allowed == value {
			return true
		}
	}
	return false
}

// Check validates a value against the vocabulary. The empty value is
// always allowed; it means unset.
func (v Vocabulary) Check(value string) error {
	if value == "" || v.Contains(value) {
		return nil
	}
	allowed := append([]string(nil), v.Values...)
	sort.Strings(allowed)
	return &MappingError{Field: v.Field, Literal: value, Allowed: allowed}
}

// MapPersons translates tracker handles through the identity table.
// Unmapped handles degrade to text-only entries instead of failing the
// record; callers surface them as warnings.
func MapPersons(users *tracker.UserMap, handles []string) Persons {
	out := make(Persons, 0, len(handles))
	for _, h := range handles {
		if u, ok := users.Lookup(h); ok && u.NotionID != "" {
			out = append(out, Person{NotionID: u.NotionID, Name: u.Handle})
		} else {
			out = append(out, Person{Name: h})
		}
	}
	return out
}

// HandlesFor translates Notion person ids back to tracker handles. Unknown
// ids are dropped: they belong to people with no tracker account.
func HandlesFor(users *tracker.UserMap, people Persons) []string {
	var out []string
	for _, p := range people {
		if p.NotionID == "" {
			continue
		}
		if u, ok := users.LookupNotion(p.NotionID); ok {
			out = append(out, u.Handle)
		}
	}
	return out
}

// DateOnly truncates to midnight UTC, the representation used for planned
// start/end dates.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DatePtr returns a pointer to the date-truncated time, or nil.
func DatePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := DateOnly(*t)
	return &d
}

// LaterOf returns the later of two optional times.
func LaterOf(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.After(*a) {
		return b
	}
	return a
}
