package sync

// RelationResolver resolves relation values against the other entity
// class's index. Each record resolves independently; no aggregation state
// is shared between children, so many-to-one fan-in needs nothing special.
type RelationResolver struct {
	parents *Index
}

// NewRelationResolver wraps the parent entity index for one relation field.
func NewRelationResolver(parents *Index) *RelationResolver {
	return &RelationResolver{parents: parents}
}

// Split partitions the keys into those present in the parent index and
// those missing from it. Any missing parent leaves the relation field in
// the unlinked state for this pass.
func (r *RelationResolver) Split(keys Relations) (linked, unlinked Relations) {
	for _, k := range keys {
		if r.parents.Has(k) {
			linked = append(linked, k)
		} else {
			unlinked = append(unlinked, k)
		}
	}
	return linked, unlinked
}

// NativeIDs translates resolved keys into the parent records' native ids,
// in input order. Unresolvable keys are dropped; callers are expected to
// have run Split first.
func (r *RelationResolver) NativeIDs(keys Relations) []string {
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if p := r.parents.Get(k); p != nil && p.NativeID != "" {
			ids = append(ids, p.NativeID)
		}
	}
	return ids
}

// KeysForNativeIDs is the reverse translation, used when decoding a native
// relation property into keys for comparison.
func (r *RelationResolver) KeysForNativeIDs(ids []string) Relations {
	keys := make(Relations, 0, len(ids))
	for _, id := range ids {
		if k, ok := r.parents.KeyForNative(id); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Parent returns the parent record for a key, or nil.
func (r *RelationResolver) Parent(key Key) *Record {
	return r.parents.Get(key)
}
