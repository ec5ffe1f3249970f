package sync

import (
	"strings"
)

// Authority fixes the source-of-truth direction for one field. It is static
// per field per repository set, never inferred at runtime.
type Authority int

const (
	// AuthSourceToTarget propagates source edits to the target and reverts
	// manual target edits.
	AuthSourceToTarget Authority = iota
	// AuthTargetToSource is the symmetric direction.
	AuthTargetToSource
	// AuthManual means the field is never compared or written.
	AuthManual
)

func (a Authority) String() string {
	switch a {
	case AuthSourceToTarget:
		return "source→target"
	case AuthTargetToSource:
		return "target→source"
	default:
		return "manual"
	}
}

// MergeFunc adjusts the authoritative value before comparison, given the
// full match for context. Mergers express the conditional rules the plain
// authority direction cannot: sync-if-empty body text, community assignee
// preservation, workflow-state fallback for trackers without an explicit
// state. Mergers must be pure; idempotence of the whole diff depends on it.
type MergeFunc func(m Match, authoritative, current Value) Value

// FieldSpec is the static configuration for one logical field.
type FieldSpec struct {
	// Name is the logical field name used in Record.Fields.
	Name string

	// Kind is the value type both sides must produce for this field.
	Kind ValueKind

	// Authority is the sync direction.
	Authority Authority

	// SourceName and TargetName are the native property names. Adapters use
	// them when encoding and decoding; empty means same as Name.
	SourceName string
	TargetName string

	// Prefix decorates title fields before compare and write. A value that
	// already carries the prefix is not decorated again, so prefixed titles
	// never rediff.
	Prefix string

	// Merge, when set, adjusts the authoritative value before comparison.
	Merge MergeFunc
}

// NativeSource returns the native property name on the source side.
func (f FieldSpec) NativeSource() string {
	if f.SourceName != "" {
		return f.SourceName
	}
	return f.Name
}

// NativeTarget returns the native property name on the target side.
func (f FieldSpec) NativeTarget() string {
	if f.TargetName != "" {
		return f.TargetName
	}
	return f.Name
}

// Decorate applies the field's prefix unless the value already carries it.
func (f FieldSpec) Decorate(v Value) Value {
	if f.Prefix == "" {
		return v
	}
	t, ok := v.(Text)
	if !ok {
		return v
	}
	if strings.HasPrefix(string(t), f.Prefix) {
		return t
	}
	return Text(f.Prefix + string(t))
}

// StripPrefix removes the field's prefix for comparisons against an
// undecorated value.
func (f FieldSpec) StripPrefix(v Value) Value {
	if f.Prefix == "" {
		return v
	}
	t, ok := v.(Text)
	if !ok {
		return v
	}
	return Text(strings.TrimPrefix(string(t), f.Prefix))
}

// SpecTable is an immutable, ordered set of field specs. It is passed
// explicitly into every core call so repository sets with different rules
// can run in one process without shared state.
type SpecTable struct {
	specs  []FieldSpec
	byName map[string]int
}

// NewSpecTable builds a table. Order is preserved for deterministic diffs.
func NewSpecTable(specs ...FieldSpec) SpecTable {
	t := SpecTable{
		specs:  append([]FieldSpec(nil), specs...),
		byName: make(map[string]int, len(specs)),
	}
	for i, s := range t.specs {
		t.byName[s.Name] = i
	}
	return t
}

// Specs returns the specs in declaration order.
func (t SpecTable) Specs() []FieldSpec {
	return t.specs
}

// Field returns the spec for a logical name.
func (t SpecTable) Field(name string) (FieldSpec, bool) {
	i, ok := t.byName[name]
	if !ok {
		return FieldSpec{}, false
	}
	return t.specs[i], true
}

// Len reports the number of specs.
func (t SpecTable) Len() int { return len(t.specs) }

// MergeIfEmpty applies the authority only while the current value is empty:
// once the non-authoritative side has content, the field behaves as manual.
// Used for one-time body sync.
func MergeIfEmpty(_ Match, authoritative, current Value) Value {
	if valueEmpty(current) {
		return authoritative
	}
	return current
}

// MergePreserveUnmapped keeps person entries on the current side whose
// handles no identity table knows (community assignees), unioned with the
// authoritative set. isMapped reports whether a handle belongs to a mapped
// user.
func MergePreserveUnmapped(isMapped func(name string) bool) MergeFunc {
	return func(_ Match, authoritative, current Value) Value {
		want, ok := authoritative.(Persons)
		if !ok {
			return authoritative
		}
		cur, ok := current.(Persons)
		if !ok {
			return want
		}
		merged := append(Persons(nil), want...)
		have := make(map[string]bool, len(want))
		for _, p := range want {
			have[p.NotionID+"\x00"+p.Name] = true
		}
		for _, p := range cur {
			if isMapped(p.Name) {
				continue
			}
			if key := p.NotionID + "\x00" + p.Name; !have[key] {
				have[key] = true
				merged = append(merged, p)
			}
		}
		return merged
	}
}

// MergeStateFallback derives a workflow state when the authoritative side
// has none (trackers that only know open/closed). A closed record keeps the
// current state if it is already a closed state, otherwise takes the first
// closed state; an open record keeps any current non-closed state,
// otherwise takes the default open state. closedField names the source
// field carrying the closed timestamp.
func MergeStateFallback(closedField, openDefault string, closedStates []string) MergeFunc {
	closed := make(map[string]bool, len(closedStates))
	for _, s := range closedStates {
		closed[s] = true
	}
	return func(m Match, authoritative, current Value) Value {
		if s, ok := authoritative.(Select); ok && !s.Empty() {
			return authoritative
		}
		curState := ""
		if s, ok := current.(Select); ok {
			curState = string(s)
		}
		isClosed := false
		if m.Source != nil {
			if d, ok := m.Source.Field(closedField).(DateRange); ok && !d.Empty() {
				isClosed = true
			}
		}
		if isClosed {
			if closed[curState] {
				return Select(curState)
			}
			if len(closedStates) > 0 {
				return Select(closedStates[0])
			}
			return Select("")
		}
		if curState != "" && !closed[curState] {
			return Select(curState)
		}
		return Select(openDefault)
	}
}
