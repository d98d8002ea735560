package record

import (
	"context"
	"log/slog"
	"time"

	"github.com/star/orbitstream/internal/metrics"
	"github.com/star/orbitstream/internal/propagation"
	"github.com/star/orbitstream/internal/tle"
)

// BuildStats counts what happened to one batch of rows.
type BuildStats struct {
	Input               int
	Built               int
	NormalizationFailed int
	PropagationFailed   int
}

// Builder normalizes rows and propagates them on the shared worker pool.
type Builder struct {
	prop   *propagation.Propagator
	logger *slog.Logger
}

// NewBuilder creates a Builder over prop.
func NewBuilder(prop *propagation.Propagator, logger *slog.Logger) *Builder {
	return &Builder{prop: prop, logger: logger}
}

// Build normalizes every row and propagates it to at. Rows that fail either
// step are logged and skipped; survivors keep their input order.
func (b *Builder) Build(ctx context.Context, rows []tle.RawElementRow, at time.Time) ([]Entry, BuildStats) {
	stats := BuildStats{Input: len(rows)}

	// Normalize first so rows with bad fields never reach SGP4.
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		v, err := Normalize(row, propagation.Result{})
		if err != nil {
			stats.NormalizationFailed++
			b.logger.Warn("dropping catalog row",
				"norad_id", row.CatalogNumber,
				"error", err,
			)
			continue
		}
		entries = append(entries, Entry{Row: row, Vector: v})
	}
	metrics.RecordNormalizationFailures(stats.NormalizationFailed)

	entries, stats.PropagationFailed = b.propagate(ctx, entries, at)
	stats.Built = len(entries)
	return entries, stats
}

// Refresh re-propagates existing entries to at. The returned entries are
// copies; entries that no longer propagate are dropped.
func (b *Builder) Refresh(ctx context.Context, entries []Entry, at time.Time) ([]Entry, BuildStats) {
	stats := BuildStats{Input: len(entries)}
	refreshed := make([]Entry, len(entries))
	for i, e := range entries {
		refreshed[i] = e.Clone()
	}
	refreshed, stats.PropagationFailed = b.propagate(ctx, refreshed, at)
	stats.Built = len(refreshed)
	return refreshed, stats
}

// propagate applies positions in place and compacts out failures.
func (b *Builder) propagate(ctx context.Context, entries []Entry, at time.Time) ([]Entry, int) {
	if len(entries) == 0 {
		return entries, 0
	}

	jobs := make([]propagation.Job, len(entries))
	for i, e := range entries {
		jobs[i] = propagation.Job{
			NORADID: e.Vector.CatalogNumber,
			Line1:   e.Row.Line1(),
			Line2:   e.Row.Line2(),
		}
	}

	outcomes := b.prop.PropagateAll(ctx, jobs, at)

	kept := entries[:0]
	failed := 0
	for i, o := range outcomes {
		if o.Err != nil {
			failed++
			continue
		}
		e := entries[i]
		e.Vector.ApplyPosition(o.Result)
		kept = append(kept, e)
	}
	return kept, failed
}
