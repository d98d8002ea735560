package publish

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/star/orbitstream/internal/metrics"
	"github.com/star/orbitstream/internal/record"
)

// Encoder turns an envelope into wire bytes.
type Encoder interface {
	Encode(v any) ([]byte, error)
	SchemaID() int
}

// Sender delivers one message and waits for acknowledgement.
type Sender interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Config controls batching and delivery.
type Config struct {
	Topic        string
	MaxBatchSize int
	// Ordered sends batches one at a time, in index order.
	Ordered     bool
	Concurrency int
	// Retries is the number of extra attempts per batch.
	Retries      int
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// Report summarizes one flush.
type Report struct {
	FlushID   string `json:"flush_id"`
	Batches   int    `json:"batches"`
	Published int    `json:"published"`
	Failed    int    `json:"failed"`
	// Records counts records in acknowledged batches.
	Records int `json:"records"`
	// Acked lists acknowledged batch indexes in ascending order.
	Acked     []int   `json:"acked_batches"`
	BatchSize int     `json:"-"`
	Errors    []error `json:"-"`
}

// Delivered reports whether snapshot index i was in an acknowledged batch.
func (r Report) Delivered(i int) bool {
	if r.BatchSize < 1 || i < 0 {
		return false
	}
	_, found := slices.BinarySearch(r.Acked, i/r.BatchSize)
	return found
}

// Publisher publishes snapshots as a sequence of batches.
type Publisher struct {
	cfg     Config
	encoder Encoder
	sender  Sender
	logger  *slog.Logger

	inflight sync.WaitGroup
}

// NewPublisher creates a Publisher.
func NewPublisher(cfg Config, encoder Encoder, sender Sender, logger *slog.Logger) *Publisher {
	if cfg.MaxBatchSize < 1 {
		cfg.MaxBatchSize = 1000
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 200 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Second
	}
	return &Publisher{cfg: cfg, encoder: encoder, sender: sender, logger: logger}
}

// FlushID formats the flush timestamp used for the envelope and message key.
func FlushID(at time.Time) string {
	return strconv.FormatInt(at.UnixMilli(), 10)
}

// Publish splits snapshot into batches and sends every batch. A failed batch
// is logged and counted; it never stops the others.
func (p *Publisher) Publish(ctx context.Context, snapshot []record.SatelliteVector, at time.Time) Report {
	p.inflight.Add(1)
	defer p.inflight.Done()

	flushID := FlushID(at)
	chunks := Partition(snapshot, p.cfg.MaxBatchSize)
	errs := make([]error, len(chunks))

	send := func(i int) {
		errs[i] = p.sendBatch(ctx, Batch{FlushID: flushID, Index: i, Records: chunks[i]})
	}

	if p.cfg.Ordered {
		for i := range chunks {
			send(i)
		}
	} else {
		// Plain group: one failure must not cancel the siblings.
		var g errgroup.Group
		g.SetLimit(p.cfg.Concurrency)
		for i := range chunks {
			g.Go(func() error {
				send(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	report := Report{FlushID: flushID, Batches: len(chunks), BatchSize: p.cfg.MaxBatchSize}
	for i, err := range errs {
		metrics.RecordBatch(err == nil)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err)
			continue
		}
		report.Published++
		report.Records += len(chunks[i])
		report.Acked = append(report.Acked, i)
	}
	return report
}

// Wait blocks until every in-flight Publish has returned.
func (p *Publisher) Wait() {
	p.inflight.Wait()
}

// Encode builds the message for a batch.
func (p *Publisher) Encode(b Batch) (Message, error) {
	value, err := p.encoder.Encode(Envelope{Timestamp: b.FlushID, TLEDataset: b.Records})
	if err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return Message{Key: []byte(b.FlushID), Value: value, SchemaID: p.encoder.SchemaID()}, nil
}

func (p *Publisher) sendBatch(ctx context.Context, b Batch) error {
	msg, err := p.Encode(b)
	if err != nil {
		p.logger.Error("batch encode failed",
			"flush_id", b.FlushID,
			"batch_index", b.Index,
			"records", len(b.Records),
			"error", err,
		)
		return &BatchError{FlushID: b.FlushID, Index: b.Index, Err: err}
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.cfg.RetryInitial),
		backoff.WithMaxInterval(p.cfg.RetryMax),
	), uint64(p.cfg.Retries)), ctx)

	op := func() error {
		return p.sender.Publish(ctx, p.cfg.Topic, msg.Key, msg.Value)
	}
	notify := func(err error, wait time.Duration) {
		metrics.RecordPublishRetry()
		p.logger.Warn("batch send failed, retrying",
			"flush_id", b.FlushID,
			"batch_index", b.Index,
			"retry_in", wait.String(),
			"error", err,
		)
	}

	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		p.logger.Error("batch publish failed",
			"flush_id", b.FlushID,
			"batch_index", b.Index,
			"records", len(b.Records),
			"error", err,
		)
		return &BatchError{FlushID: b.FlushID, Index: b.Index, Err: fmt.Errorf("%w: %w", ErrPublish, err)}
	}

	p.logger.Debug("batch published",
		"flush_id", b.FlushID,
		"batch_index", b.Index,
		"records", len(b.Records),
		"bytes", len(msg.Value),
	)
	return nil
}
