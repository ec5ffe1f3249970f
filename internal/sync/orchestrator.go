package sync

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/notionsync/notionsync/internal/telemetry"
)

// Phase names one stage of a pass. Phases always advance in order; a pass
// terminates early only on a fatal indexing error.
type Phase string

const (
	PhaseFetching  Phase = "fetching"
	PhaseIndexing  Phase = "indexing"
	PhaseMatching  Phase = "matching"
	PhaseDiffing   Phase = "diffing"
	PhaseApplying  Phase = "applying"
	PhaseReporting Phase = "reporting"
)

// RecordSource fetches one side's records. Implementations must fully
// drain pagination before returning: the key index needs the complete set.
type RecordSource interface {
	Fetch(ctx context.Context) ([]*Record, error)
}

// RecordSourceFunc adapts a function to RecordSource.
type RecordSourceFunc func(ctx context.Context) ([]*Record, error)

func (f RecordSourceFunc) Fetch(ctx context.Context) ([]*Record, error) { return f(ctx) }

// Applier writes one operation to its system. Create must return the new
// record's native id so later relation resolution can find it; Update must
// touch only the fields listed in the operation.
type Applier interface {
	Apply(ctx context.Context, op Operation) (nativeID string, err error)
}

// Pass reconciles one record class of one repository set: fetch both
// sides, index, match, diff, apply, report. Passes own all their state;
// concurrent passes over different repository sets share nothing.
type Pass struct {
	Name string

	Source RecordSource
	Target RecordSource

	// SourceKey and TargetKey derive identity keys during indexing.
	// Nil defaults to the key already carried by the record.
	SourceKey KeyFunc
	TargetKey KeyFunc

	// OnUnresolvedSource is invoked for source records without a key. Used
	// by the label topology to assign a key by writing the cross-link on
	// first sync. Returning false skips the record this pass.
	OnUnresolvedSource func(ctx context.Context, r *Record) (Key, bool)

	Diff    DiffConfig
	Applier Applier
	DryRun  bool

	// OnMessage and OnWarning receive progress output (optional).
	OnMessage func(format string, args ...any)
	OnWarning func(format string, args ...any)
}

// Run drives the pass to completion and returns its report together with
// the final target index (including records created during apply, so a
// following pass can resolve relations against them).
//
// A failure applying one operation is recorded against that record and
// never aborts the remaining operations. Only a fatal indexing error
// (duplicate key) aborts the pass, and it does so before any write.
func (p *Pass) Run(ctx context.Context) (*Report, *Index, error) {
	tracer := telemetry.Tracer("")
	ctx, span := tracer.Start(ctx, "sync.pass", trace.WithAttributes(
		attribute.String("pass", p.Name),
	))
	defer span.End()

	report := &Report{Pass: p.Name}

	// Fetching
	p.phase(span, PhaseFetching)
	sourceRecords, err := p.Source.Fetch(ctx)
	if err != nil {
		return report, nil, fmt.Errorf("%s: fetching source: %w", p.Name, err)
	}
	targetRecords, err := p.Target.Fetch(ctx)
	if err != nil {
		return report, nil, fmt.Errorf("%s: fetching target: %w", p.Name, err)
	}
	report.Fetched = len(sourceRecords) + len(targetRecords)

	// Indexing
	p.phase(span, PhaseIndexing)
	sourceIdx, unresolved, err := BuildIndex(sourceRecords, p.sourceKey())
	if err != nil {
		return report, nil, fmt.Errorf("%s: indexing source: %w", p.Name, err)
	}
	if err := p.resolveRemaining(ctx, sourceIdx, unresolved, report); err != nil {
		return report, nil, err
	}
	targetIdx, targetUnresolved, err := BuildIndex(targetRecords, p.targetKey())
	if err != nil {
		return report, nil, fmt.Errorf("%s: indexing target: %w", p.Name, err)
	}
	for range targetUnresolved {
		report.Skipped++
	}

	// Matching
	p.phase(span, PhaseMatching)
	matches := MatchIndices(sourceIdx, targetIdx)

	// Diffing
	p.phase(span, PhaseDiffing)
	var ops []Operation
	for _, m := range matches {
		plan := Diff(m, p.Diff)
		if len(plan) == 0 {
			switch m.Kind() {
			case Matched:
				report.Unchanged++
			case SourceOnly, TargetOnly:
				report.Skipped++
			}
			continue
		}
		ops = append(ops, plan...)
	}

	// Applying
	p.phase(span, PhaseApplying)
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			// Aborting between records is safe: the next pass re-derives
			// everything from scratch.
			return report, targetIdx, err
		}
		p.applyOne(ctx, op, targetIdx, report)
	}

	// Reporting
	p.phase(span, PhaseReporting)
	span.SetAttributes(
		attribute.Int("created", report.Created),
		attribute.Int("updated", report.Updated),
		attribute.Int("failed", report.Failed),
	)
	p.recordMetrics(ctx, report)
	return report, targetIdx, nil
}

func (p *Pass) applyOne(ctx context.Context, op Operation, targetIdx *Index, report *Report) {
	if len(op.Unlinked) > 0 {
		report.Unlinked++
		for _, field := range op.Unlinked {
			p.warn(report, "%s: %s left unlinked for %s, will retry next pass", p.Name, field, op.Key)
		}
	}
	if op.Kind == OpNoop {
		report.Unchanged++
		return
	}

	if p.DryRun {
		p.msg("%s: would %s %s (%d fields)", p.Name, op.Kind, op.Key, len(op.Fields))
		p.countApplied(op, report)
		return
	}

	nativeID, err := p.Applier.Apply(ctx, op)
	if err != nil {
		report.RecordFailure(op.Key, err)
		// The failure is already on the report; stream it without
		// duplicating it into Warnings.
		if p.OnWarning != nil {
			p.OnWarning("%s: %s %s failed: %v", p.Name, op.Kind, op.Key, err)
		}
		return
	}
	p.countApplied(op, report)

	if op.Kind == OpCreate && nativeID != "" {
		// Index the created record so the next pass in this run can
		// resolve relations against it.
		created := &Record{
			NativeID: nativeID,
			Key:      op.Key,
			System:   SystemTarget,
			Fields:   op.Fields,
		}
		if err := targetIdx.Add(created); err != nil {
			p.warn(report, "%s: indexing created record %s: %v", p.Name, op.Key, err)
		}
	}
}

func (p *Pass) countApplied(op Operation, report *Report) {
	switch op.Kind {
	case OpCreate:
		report.Created++
	case OpUpdate:
		report.Updated++
	case OpArchive:
		report.Archived++
	}
}

// resolveRemaining offers unresolved source records to the
// OnUnresolvedSource hook and indexes the ones it resolves.
func (p *Pass) resolveRemaining(ctx context.Context, idx *Index, unresolved []*Record, report *Report) error {
	for _, r := range unresolved {
		if p.OnUnresolvedSource == nil {
			report.Skipped++
			continue
		}
		key, ok := p.OnUnresolvedSource(ctx, r)
		if !ok {
			report.Skipped++
			continue
		}
		r.Key = key
		if err := idx.Add(r); err != nil {
			return fmt.Errorf("%s: indexing assigned key: %w", p.Name, err)
		}
	}
	return nil
}

func (p *Pass) sourceKey() KeyFunc {
	if p.SourceKey != nil {
		return p.SourceKey
	}
	return KeyFromRecord
}

func (p *Pass) targetKey() KeyFunc {
	if p.TargetKey != nil {
		return p.TargetKey
	}
	return KeyFromRecord
}

func (p *Pass) phase(span trace.Span, ph Phase) {
	span.AddEvent(string(ph))
}

func (p *Pass) msg(format string, args ...any) {
	if p.OnMessage != nil {
		p.OnMessage(format, args...)
	}
}

// warn records the warning on the report and streams it to OnWarning.
func (p *Pass) warn(report *Report, format string, args ...any) {
	report.Warn(format, args...)
	if p.OnWarning != nil {
		p.OnWarning(format, args...)
	}
}
