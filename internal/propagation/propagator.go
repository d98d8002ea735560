package propagation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/star/orbitstream/internal/metrics"
)

// cachedModel is an initialized SGP4 model and the lines it was built from.
type cachedModel struct {
	line1, line2 string
	prop         *SGP4Propagator
	err          error
}

// Propagator propagates whole catalogs on the worker pool and keeps
// initialized SGP4 models between calls. The flush path re-propagates the
// same element sets every few seconds, so re-running sgp4init each time
// would dominate the cost.
type Propagator struct {
	pool   *WorkerPool
	config PropConfig
	logger *slog.Logger

	mu     sync.RWMutex
	models map[int]*cachedModel
}

// NewPropagator creates a new propagation orchestrator.
func NewPropagator(config PropConfig, logger *slog.Logger) *Propagator {
	return &Propagator{
		pool:   NewWorkerPool(config.Workers, logger),
		config: config,
		logger: logger,
		models: make(map[int]*cachedModel),
	}
}

// model returns a cached model for the job, rebuilding it when the element
// set changed (double-checked under the write lock).
func (p *Propagator) model(j Job) (*SGP4Propagator, error) {
	p.mu.RLock()
	m, ok := p.models[j.NORADID]
	p.mu.RUnlock()
	if ok && m.line1 == j.Line1 && m.line2 == j.Line2 {
		return m.prop, m.err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.models[j.NORADID]; ok && m.line1 == j.Line1 && m.line2 == j.Line2 {
		return m.prop, m.err
	}

	prop, err := NewSGP4Propagator(j.Line1, j.Line2, j.NORADID)
	p.models[j.NORADID] = &cachedModel{line1: j.Line1, line2: j.Line2, prop: prop, err: err}
	return prop, err
}

// PropagateAll propagates every job to targetTime.
// Outcomes are index-aligned with jobs.
func (p *Propagator) PropagateAll(ctx context.Context, jobs []Job, targetTime time.Time) []Outcome {
	p.logger.Debug("propagating",
		"satellite_count", len(jobs),
		"target_time", targetTime.UTC().Format(time.RFC3339),
		"workers", p.pool.workers,
	)

	start := time.Now()
	outcomes, successCount, errorCount := p.pool.PropagateBatch(ctx, jobs, targetTime, p.model)
	duration := time.Since(start)

	metrics.RecordPropagation(duration, successCount, errorCount)

	p.logger.Debug("propagation complete",
		"success", successCount,
		"errors", errorCount,
		"duration_ms", duration.Milliseconds(),
	)
	return outcomes
}

// Forget drops cached models for objects no longer in the catalog.
func (p *Propagator) Forget(keep func(noradID int) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var dropped int
	for id := range p.models {
		if !keep(id) {
			delete(p.models, id)
			dropped++
		}
	}
	return dropped
}

// CachedModels returns the number of initialized models held.
func (p *Propagator) CachedModels() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.models)
}
