package sync

// System tags which side of a pass a record belongs to.
type System int

const (
	// SystemSource is the authoritative side records flow from by default.
	SystemSource System = iota
	// SystemTarget is the side operations are written to by default.
	SystemTarget
)

func (s System) String() string {
	if s == SystemSource {
		return "source"
	}
	return "target"
}

// Record is one item in either system, reduced to logical fields.
//
// NativeID is the per-system identifier (Notion page id, tracker ref
// string). Key is the stable cross-system identity; it is empty only while
// unresolved. Raw stashes the adapter's native object so appliers can build
// minimal native writes (the fetched tracker issue, the Notion page).
type Record struct {
	NativeID string
	Key      Key
	System   System
	Fields   map[string]Value
	Raw      any
}

// Field returns the named field value, or nil when absent.
func (r *Record) Field(name string) Value {
	if r == nil || r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}

// SetField stores a field value, allocating the map on first use.
func (r *Record) SetField(name string, v Value) {
	if r.Fields == nil {
		r.Fields = make(map[string]Value)
	}
	r.Fields[name] = v
}
