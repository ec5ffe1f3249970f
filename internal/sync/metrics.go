package sync

import (
	"context"
	gosync "sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/notionsync/notionsync/internal/telemetry"
)

// passMetrics holds the record counters shared by every pass. Instruments
// are process wide; the pass name travels as an attribute.
type passMetrics struct {
	fetched metric.Int64Counter
	created metric.Int64Counter
	updated metric.Int64Counter
	failed  metric.Int64Counter
}

var (
	instrumentsOnce gosync.Once
	instruments     passMetrics
)

func passInstruments() *passMetrics {
	instrumentsOnce.Do(func() {
		m := telemetry.Meter("")
		instruments.fetched, _ = m.Int64Counter("notionsync.records.fetched",
			metric.WithDescription("Records fetched from both systems"))
		instruments.created, _ = m.Int64Counter("notionsync.records.created",
			metric.WithDescription("Records created"))
		instruments.updated, _ = m.Int64Counter("notionsync.records.updated",
			metric.WithDescription("Records updated"))
		instruments.failed, _ = m.Int64Counter("notionsync.records.failed",
			metric.WithDescription("Record operations that failed"))
	})
	return &instruments
}

// recordMetrics publishes the pass outcome to the meter. With telemetry
// disabled the instruments are no-ops.
func (p *Pass) recordMetrics(ctx context.Context, report *Report) {
	m := passInstruments()
	attrs := metric.WithAttributes(attribute.String("pass", p.Name))
	m.fetched.Add(ctx, int64(report.Fetched), attrs)
	m.created.Add(ctx, int64(report.Created), attrs)
	m.updated.Add(ctx, int64(report.Updated), attrs)
	m.failed.Add(ctx, int64(report.Failed), attrs)
}
