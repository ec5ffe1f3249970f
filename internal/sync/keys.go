package sync

import (
	"sort"
)

// Key is a stable cross-system identity for a record, e.g.
// "github:mozilla/releases#42" or "bugzilla:bmo#177492". Keys are derived
// fresh every pass; no match state persists between runs.
type Key string

// KeyFunc derives a record's key. ok is false when the record cannot be
// resolved (e.g., a Notion page whose issue-link field is still empty); the
// caller decides whether unresolved records are assigned a key by creating
// the cross-link, or skipped.
type KeyFunc func(*Record) (Key, bool)

// KeyFromRecord resolves through the key already carried by the record.
// Tracker-originated records arrive with their ref-derived key set.
func KeyFromRecord(r *Record) (Key, bool) {
	return r.Key, r.Key != ""
}

// KeyFromLink returns a KeyFunc that reads a link field and parses it with
// parse. Used for Notion records whose identity lives in a URL property the
// engine itself wrote on an earlier pass.
func KeyFromLink(field string, parse func(url string) (Key, bool)) KeyFunc {
	return func(r *Record) (Key, bool) {
		v, ok := r.Field(field).(Link)
		if !ok || v.Empty() {
			return "", false
		}
		return parse(string(v))
	}
}

// KeyFromTitle returns a KeyFunc keying records by a text or select field,
// used where identity is name-based (milestone titles under label topology,
// sprint names).
func KeyFromTitle(field string) KeyFunc {
	return func(r *Record) (Key, bool) {
		v := r.Field(field)
		if valueEmpty(v) {
			return "", false
		}
		return Key(v.String()), true
	}
}

// Index maps keys to records for one side of a pass. Building it is an O(n)
// scan; a duplicate key within one side poisons the whole index and aborts
// the pass before any write.
type Index struct {
	byKey    map[Key]*Record
	byNative map[string]Key
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		byKey:    make(map[Key]*Record),
		byNative: make(map[string]Key),
	}
}

// BuildIndex resolves every record through fn and indexes the resolved
// ones. Unresolved records are returned for the caller to handle. A
// duplicate key is a fatal configuration error: the index cannot be
// trusted, so nothing is merged silently.
func BuildIndex(records []*Record, fn KeyFunc) (*Index, []*Record, error) {
	idx := NewIndex()
	var unresolved []*Record
	for _, r := range records {
		key, ok := fn(r)
		if !ok {
			unresolved = append(unresolved, r)
			continue
		}
		if dup, exists := idx.byKey[key]; exists {
			return nil, nil, &DuplicateKeyError{
				Key:     key,
				System:  r.System,
				Natives: []string{dup.NativeID, r.NativeID},
			}
		}
		r.Key = key
		idx.byKey[key] = r
		if r.NativeID != "" {
			idx.byNative[r.NativeID] = key
		}
	}
	return idx, unresolved, nil
}

// Add inserts a record that gained its key after the index was built
// (e.g., a created page whose native id just came back from Apply).
func (i *Index) Add(r *Record) error {
	if r.Key == "" {
		return &ConfigurationError{Reason: "cannot index record without key"}
	}
	if _, exists := i.byKey[r.Key]; exists {
		return &DuplicateKeyError{Key: r.Key, System: r.System, Natives: []string{r.NativeID}}
	}
	i.byKey[r.Key] = r
	if r.NativeID != "" {
		i.byNative[r.NativeID] = r.Key
	}
	return nil
}

// Get returns the record for key, or nil.
func (i *Index) Get(key Key) *Record {
	if i == nil {
		return nil
	}
	return i.byKey[key]
}

// Has reports whether key is present.
func (i *Index) Has(key Key) bool {
	return i.Get(key) != nil
}

// KeyForNative returns the key indexed under a native id.
func (i *Index) KeyForNative(nativeID string) (Key, bool) {
	if i == nil {
		return "", false
	}
	k, ok := i.byNative[nativeID]
	return k, ok
}

// Keys returns all keys in sorted order, for deterministic iteration.
func (i *Index) Keys() []Key {
	if i == nil {
		return nil
	}
	keys := make([]Key, 0, len(i.byKey))
	for k := range i.byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
	return keys
}

// Len reports the number of indexed records.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.byKey)
}
