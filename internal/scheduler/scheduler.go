// Package scheduler drives the fetch and flush cycles.
//
// The fetch cycle queries the catalog provider, builds records and merges
// them into the catalog; the next fetch is scheduled only after the previous
// one settles. The flush cycle runs on its own ticker, snapshots the catalog,
// optionally re-propagates it to the flush instant and publishes it.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/orbitstream/internal/catalog"
	"github.com/star/orbitstream/internal/metrics"
	"github.com/star/orbitstream/internal/propagation"
	"github.com/star/orbitstream/internal/publish"
	"github.com/star/orbitstream/internal/record"
	"github.com/star/orbitstream/internal/tle"
	"github.com/star/orbitstream/internal/transport"
)

// CycleState is the state of one cycle.
type CycleState int32

const (
	Idle CycleState = iota
	Fetching
	Flushing
)

func (s CycleState) String() string {
	switch s {
	case Fetching:
		return "fetching"
	case Flushing:
		return "flushing"
	default:
		return "idle"
	}
}

// MarshalJSON renders the state name.
func (s CycleState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Config controls cadence and window policy.
type Config struct {
	PollInterval     time.Duration
	FlushInterval    time.Duration
	ColdLookback     time.Duration
	WarmLookback     time.Duration
	FetchTimeout     time.Duration
	PublishTimeout   time.Duration
	RecomputeOnFlush bool
	DirtyOnly        bool
}

// Connector is the broker connection as seen by the scheduler.
type Connector interface {
	Connect(ctx context.Context) error
	State() transport.State
}

// Status is an observable summary of both cycles.
type Status struct {
	Fetch         CycleState     `json:"fetch"`
	Flush         CycleState     `json:"flush"`
	Transport     string         `json:"transport"`
	ColdStartDone bool           `json:"cold_start_done"`
	Fetches       int            `json:"fetches"`
	FetchErrors   int            `json:"fetch_errors"`
	LastFetch     time.Time      `json:"last_fetch"`
	LastFetchRows int            `json:"last_fetch_rows"`
	Flushes       int            `json:"flushes"`
	LastFlush     time.Time      `json:"last_flush"`
	LastReport    publish.Report `json:"last_report"`
}

// Scheduler owns the two cycles. Create it with New and start it with Run.
type Scheduler struct {
	cfg       Config
	provider  tle.Provider
	builder   *record.Builder
	prop      *propagation.Propagator
	catalog   *catalog.Catalog
	publisher *publish.Publisher
	conn      Connector
	logger    *slog.Logger
	now       func() time.Time

	fetchState atomic.Int32
	flushState atomic.Int32
	inflight   sync.WaitGroup

	mu     sync.Mutex
	status Status
}

// New creates a Scheduler.
func New(cfg Config, provider tle.Provider, builder *record.Builder, prop *propagation.Propagator,
	cat *catalog.Catalog, publisher *publish.Publisher, conn Connector, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		provider:  provider,
		builder:   builder,
		prop:      prop,
		catalog:   cat,
		publisher: publisher,
		conn:      conn,
		logger:    logger,
		now:       time.Now,
	}
}

// State returns the fetch and flush cycle states.
func (s *Scheduler) State() (fetch, flush CycleState) {
	return CycleState(s.fetchState.Load()), CycleState(s.flushState.Load())
}

// Status returns the current state of both cycles.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()

	st.Fetch, st.Flush = s.State()
	st.Transport = s.conn.State().String()
	return st
}

// Seed merges rows loaded outside the fetch cycle, such as the disk cache.
func (s *Scheduler) Seed(ctx context.Context, rows []tle.RawElementRow) int {
	entries, stats := s.builder.Build(ctx, rows, s.now())
	merged := s.catalog.Merge(entries, s.now())
	metrics.RecordMerge(merged.Inserted, merged.Updated, merged.Removed, merged.Size)
	s.logger.Info("catalog seeded",
		"rows", stats.Input,
		"built", stats.Built,
		"catalog_size", merged.Size,
	)
	return stats.Built
}

// Run connects the transport, performs the cold-start fetch and then runs
// both cycles until ctx is cancelled. In-flight work is allowed to finish
// within its own timeout before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.conn.Connect(ctx); err != nil {
		// Publishing reconnects on demand.
		s.logger.Warn("initial broker connect failed", "error", err)
	}

	s.fetch(ctx)

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		s.fetchLoop(ctx)
	}()
	go func() {
		defer loops.Done()
		s.flushLoop(ctx)
	}()

	<-ctx.Done()
	s.logger.Info("scheduler stopping, waiting for in-flight work")
	loops.Wait()
	s.inflight.Wait()
	s.publisher.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// fetchLoop re-arms its timer only after a fetch settles, so fetches never overlap.
func (s *Scheduler) fetchLoop(ctx context.Context) {
	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.fetch(ctx)
			timer.Reset(s.cfg.PollInterval)
		}
	}
}

func (s *Scheduler) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts a flush unless one is already running.
func (s *Scheduler) tick(ctx context.Context) bool {
	if !s.flushState.CompareAndSwap(int32(Idle), int32(Flushing)) {
		metrics.RecordFlushSkipped()
		s.logger.Debug("flush tick skipped, previous flush still running")
		return false
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.flushState.Store(int32(Idle))
		s.flush(ctx)
	}()
	return true
}

// fetch runs one fetch cycle. Errors are logged and never stop the loop.
func (s *Scheduler) fetch(ctx context.Context) {
	if !s.fetchState.CompareAndSwap(int32(Idle), int32(Fetching)) {
		return
	}
	defer s.fetchState.Store(int32(Idle))

	s.mu.Lock()
	cold := !s.status.ColdStartDone
	s.mu.Unlock()

	window, lookback := "warm", s.cfg.WarmLookback
	if cold {
		window, lookback = "cold", s.cfg.ColdLookback
	}

	// A shutdown lets the running fetch finish within its timeout.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	rows, err := s.provider.Query(fctx, tle.DefaultFilter(lookback))
	metrics.RecordFetch(window, time.Since(start), len(rows), err)
	if err != nil {
		s.mu.Lock()
		s.status.FetchErrors++
		s.mu.Unlock()
		s.logger.Warn("catalog fetch failed", "window", window, "error", err)
		return
	}

	at := s.now()
	entries, built := s.builder.Build(fctx, rows, at)
	merged := s.catalog.Merge(entries, at)
	metrics.RecordMerge(merged.Inserted, merged.Updated, merged.Removed, merged.Size)
	if merged.Removed > 0 {
		s.prop.Forget(s.catalog.Contains)
	}

	s.mu.Lock()
	s.status.ColdStartDone = true
	s.status.Fetches++
	s.status.LastFetch = at
	s.status.LastFetchRows = len(rows)
	s.mu.Unlock()

	s.logger.Info("catalog fetch complete",
		"window", window,
		"rows", len(rows),
		"built", built.Built,
		"normalization_failed", built.NormalizationFailed,
		"propagation_failed", built.PropagationFailed,
		"inserted", merged.Inserted,
		"updated", merged.Updated,
		"removed", merged.Removed,
		"catalog_size", merged.Size,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// flush publishes one snapshot of the catalog.
func (s *Scheduler) flush(ctx context.Context) publish.Report {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
	defer cancel()

	start := time.Now()
	at := s.now()
	entries := s.catalog.FlushSnapshot(s.cfg.DirtyOnly)
	if len(entries) == 0 {
		s.logger.Debug("nothing to flush", "dirty_only", s.cfg.DirtyOnly)
		return publish.Report{FlushID: publish.FlushID(at)}
	}

	if s.cfg.RecomputeOnFlush {
		var refreshed record.BuildStats
		entries, refreshed = s.builder.Refresh(pctx, entries, at)
		if refreshed.PropagationFailed > 0 {
			s.logger.Info("records dropped from flush",
				"flush_id", publish.FlushID(at),
				"propagation_failed", refreshed.PropagationFailed,
			)
		}
	}

	vectors := make([]record.SatelliteVector, len(entries))
	for i, e := range entries {
		vectors[i] = e.Vector
	}

	report := s.publisher.Publish(pctx, vectors, at)
	duration := time.Since(start)

	// Entries in failed batches stay dirty for the next flush.
	delivered := make([]record.Entry, 0, report.Records)
	for i, e := range entries {
		if report.Delivered(i) {
			delivered = append(delivered, e)
		}
	}
	s.catalog.MarkFlushed(delivered)
	metrics.RecordFlush(duration, report.Records)

	s.mu.Lock()
	s.status.Flushes++
	s.status.LastFlush = at
	s.status.LastReport = report
	s.mu.Unlock()

	level := slog.LevelInfo
	if report.Failed > 0 {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "flush complete",
		"flush_id", report.FlushID,
		"records", len(vectors),
		"batches", report.Batches,
		"published", report.Published,
		"failed", report.Failed,
		"duration_ms", duration.Milliseconds(),
	)
	return report
}
