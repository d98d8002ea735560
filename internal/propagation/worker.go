package propagation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/star/orbitstream/internal/transform"
)

// propagateJob is a unit of work for the worker pool.
type propagateJob struct {
	index      int
	job        Job
	targetTime time.Time
	gmst       float64 // precomputed GMST for targetTime
}

// modelFunc returns an initialized model for a job.
type modelFunc func(Job) (*SGP4Propagator, error)

// WorkerPool runs SGP4 propagation on a fixed number of goroutines.
// Propagation is CPU-bound and independent per object.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

func newModel(j Job) (*SGP4Propagator, error) {
	return NewSGP4Propagator(j.Line1, j.Line2, j.NORADID)
}

// PropagateBatch propagates every job to targetTime.
// The returned outcomes are index-aligned with jobs. Jobs not reached before
// ctx is cancelled carry ctx.Err(). Failures are logged at warn and counted.
func (wp *WorkerPool) PropagateBatch(ctx context.Context, jobs []Job, targetTime time.Time, modelFor modelFunc) ([]Outcome, int, int) {
	if len(jobs) == 0 {
		return nil, 0, 0
	}
	if modelFor == nil {
		modelFor = newModel
	}

	targetTime = targetTime.UTC().Truncate(time.Second)
	// Same GMST for every object at this instant.
	gmst := transform.GMST(targetTime)

	outcomes := make([]Outcome, len(jobs))
	for i, j := range jobs {
		outcomes[i].NORADID = j.NORADID
	}

	work := make(chan propagateJob, wp.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pj := range work {
				// Each index is written by exactly one worker.
				outcomes[pj.index] = propagateSingle(pj, modelFor)
			}
		}()
	}

	fed := 0
feed:
	for i, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		select {
		case work <- propagateJob{index: i, job: j, targetTime: targetTime, gmst: gmst}:
			fed++
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	for i := fed; i < len(jobs); i++ {
		outcomes[i].Err = ctx.Err()
	}

	var successCount, errorCount int
	for _, o := range outcomes {
		if o.Err != nil {
			errorCount++
			wp.logger.Warn("propagation failed",
				"norad_id", o.NORADID,
				"error", o.Err,
			)
			continue
		}
		successCount++
	}

	return outcomes, successCount, errorCount
}

// propagateSingle initializes (or reuses) the model and propagates one object.
func propagateSingle(pj propagateJob, modelFor modelFunc) Outcome {
	prop, err := modelFor(pj.job)
	if err != nil {
		return Outcome{NORADID: pj.job.NORADID, Err: err}
	}

	res, err := prop.propagateWithGMST(pj.targetTime, pj.gmst)
	if err != nil {
		return Outcome{NORADID: pj.job.NORADID, Err: err}
	}
	return Outcome{NORADID: pj.job.NORADID, Result: res}
}
