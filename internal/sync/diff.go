package sync

// OpKind enumerates planned effects.
type OpKind int

const (
	// OpNoop means the pair is already converged.
	OpNoop OpKind = iota
	// OpCreate creates a counterpart record.
	OpCreate
	// OpUpdate writes only the changed fields of an existing record.
	OpUpdate
	// OpArchive retires a stale target record (archive, never destroy).
	OpArchive
)

func (k OpKind) String() string {
	switch k {
	case OpNoop:
		return "noop"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpArchive:
		return "archive"
	default:
		return "invalid"
	}
}

// Operation is one planned effect, carrying enough context to be logged and
// audited before it is applied. Update operations list only the changed
// fields; the applier must never touch fields absent from the map.
type Operation struct {
	Kind     OpKind
	System   System
	Key      Key
	NativeID string
	Fields   map[string]Value
	// Unlinked lists relation fields whose parent could not be resolved in
	// either index. They are skipped for this pass and retried on the next
	// one; the record's other fields still apply.
	Unlinked []string
	// Counterpart is the record on the side being written, when it exists.
	// Appliers use it to build minimal native payloads.
	Counterpart *Record
}

// SourceOnlyPolicy decides what a record with no counterpart becomes.
type SourceOnlyPolicy int

const (
	// SourceOnlyCreate creates the missing target record.
	SourceOnlyCreate SourceOnlyPolicy = iota
	// SourceOnlySkip leaves it alone and counts it as skipped. Used where
	// the target is linked by reference and a missing counterpart means the
	// reference is stale.
	SourceOnlySkip
)

// TargetOnlyPolicy decides what a target record with no counterpart becomes.
type TargetOnlyPolicy int

const (
	// TargetOnlyKeep never touches records the engine did not originate.
	TargetOnlyKeep TargetOnlyPolicy = iota
	// TargetOnlyArchive retires stale rows. Only the ingestion topology
	// designates the source as sole creator and turns this on.
	TargetOnlyArchive
)

// DiffConfig parameterizes the diff engine for one pass.
type DiffConfig struct {
	Specs        SpecTable
	Relations    map[string]*RelationResolver
	OnSourceOnly SourceOnlyPolicy
	OnTargetOnly TargetOnlyPolicy
}

// Diff computes the operations needed to converge one match. The returned
// plan is empty when the pair is already converged; running Diff twice with
// no external change in between always yields an empty plan the second
// time.
func Diff(m Match, cfg DiffConfig) []Operation {
	switch m.Kind() {
	case SourceOnly:
		return diffSourceOnly(m, cfg)
	case TargetOnly:
		return diffTargetOnly(m, cfg)
	default:
		return diffMatched(m, cfg)
	}
}

func diffSourceOnly(m Match, cfg DiffConfig) []Operation {
	if cfg.OnSourceOnly == SourceOnlySkip {
		return nil
	}
	op := Operation{
		Kind:   OpCreate,
		System: SystemTarget,
		Key:    m.Key,
	}
	for _, spec := range cfg.Specs.Specs() {
		if spec.Authority != AuthSourceToTarget {
			continue
		}
		want, unlinked := desiredValue(m, spec, cfg, nil)
		if unlinked {
			op.Unlinked = append(op.Unlinked, spec.Name)
			continue
		}
		if want == nil {
			continue
		}
		if op.Fields == nil {
			op.Fields = make(map[string]Value)
		}
		op.Fields[spec.Name] = want
	}
	return []Operation{op}
}

func diffTargetOnly(m Match, cfg DiffConfig) []Operation {
	if cfg.OnTargetOnly != TargetOnlyArchive {
		return nil
	}
	return []Operation{{
		Kind:        OpArchive,
		System:      SystemTarget,
		Key:         m.Key,
		NativeID:    m.Target.NativeID,
		Counterpart: m.Target,
	}}
}

func diffMatched(m Match, cfg DiffConfig) []Operation {
	var toTarget, toSource Operation
	for _, spec := range cfg.Specs.Specs() {
		switch spec.Authority {
		case AuthManual:
			continue
		case AuthSourceToTarget:
			diffField(m, spec, cfg, m.Target, &toTarget)
		case AuthTargetToSource:
			diffField(swapped(m), spec, cfg, m.Source, &toSource)
		}
	}

	var ops []Operation
	if finalizeUpdate(&toTarget, m.Key, SystemTarget, m.Target) {
		ops = append(ops, toTarget)
	}
	if finalizeUpdate(&toSource, m.Key, SystemSource, m.Source) {
		ops = append(ops, toSource)
	}
	return ops
}

// finalizeUpdate fills in the operation envelope. An operation with only
// unlinked relations and no field changes degrades to a noop that still
// reports its unlinked fields.
func finalizeUpdate(op *Operation, key Key, sys System, counterpart *Record) bool {
	if len(op.Fields) == 0 && len(op.Unlinked) == 0 {
		return false
	}
	op.Kind = OpUpdate
	if len(op.Fields) == 0 {
		op.Kind = OpNoop
	}
	op.System = sys
	op.Key = key
	op.NativeID = counterpart.NativeID
	op.Counterpart = counterpart
	return true
}

// swapped flips the match so target→source fields reuse the source→target
// comparison path.
func swapped(m Match) Match {
	return Match{Key: m.Key, Source: m.Target, Target: m.Source}
}

// diffField compares one field from the authoritative record toward the
// written record and accumulates any change into op.
func diffField(m Match, spec FieldSpec, cfg DiffConfig, to *Record, op *Operation) {
	current := to.Field(spec.Name)
	want, unlinked := desiredValue(m, spec, cfg, current)
	if unlinked {
		op.Unlinked = append(op.Unlinked, spec.Name)
		return
	}
	if want == nil {
		return
	}
	if current != nil && want.Equal(current) {
		return
	}
	if current == nil && want.Empty() {
		return
	}
	if op.Fields == nil {
		op.Fields = make(map[string]Value)
	}
	op.Fields[spec.Name] = want
}

// desiredValue produces the value the written side should hold: the
// authoritative value, passed through the merge rule, resolved against the
// parent index for relations, and decorated with the title prefix.
// unlinked is true when a relation field cannot be resolved this pass.
func desiredValue(m Match, spec FieldSpec, cfg DiffConfig, current Value) (Value, bool) {
	want := m.Source.Field(spec.Name)
	if spec.Merge != nil {
		want = spec.Merge(m, want, current)
	}
	if want == nil {
		return nil, false
	}
	if spec.Kind == KindRelations {
		if resolver := cfg.Relations[spec.Name]; resolver != nil {
			rels, ok := want.(Relations)
			if !ok {
				return want, false
			}
			linked, unlinked := resolver.Split(rels)
			if len(unlinked) > 0 {
				return nil, true
			}
			want = linked
		}
	}
	return spec.Decorate(want), false
}
