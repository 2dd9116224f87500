package index

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/contentforge/corpus/internal/embedding"
	"github.com/contentforge/corpus/internal/knowledge"
)

// retryDelay separates the single retry of a failed job from the attempt
// that failed, so momentary provider blips do not burn the retry.
const retryDelay = 2 * time.Second

// Job identifies one document to (re)index.
type Job struct {
	Tier knowledge.Tier
	ID   uuid.UUID
}

// loader fetches the current state of a document for indexing.
type loader interface {
	GetForIndexing(ctx context.Context, tier knowledge.Tier, id uuid.UUID) (*knowledge.Document, error)
}

// Queue serializes index jobs through a bounded channel. Writes never wait
// on indexing: Enqueue drops on overflow and reports it, and the dropped
// document stays retrievable lexically after the next reindex.
type Queue struct {
	jobs       chan Job
	indexer    *Indexer
	loader     loader
	logger     *slog.Logger
	retryDelay time.Duration
}

// NewQueue creates a Queue with the given capacity. loader is usually the
// knowledge store; logger may be nil.
func NewQueue(capacity int, indexer *Indexer, loader loader, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		jobs:       make(chan Job, capacity),
		indexer:    indexer,
		loader:     loader,
		logger:     logger,
		retryDelay: retryDelay,
	}
}

// Enqueue submits a job without blocking. Returns false when the queue is
// full and the job was dropped.
func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		q.logger.Warn("index queue full, dropping job", "tier", job.Tier, "id", job.ID)
		return false
	}
}

// Run processes jobs until ctx is canceled. Callers must track the
// goroutine with a WaitGroup.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.process(ctx, job)
		}
	}
}

// process runs one job with a single retry for transient failures.
func (q *Queue) process(ctx context.Context, job Job) {
	err := q.runJob(ctx, job)
	if err == nil || !retryable(err) {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(q.retryDelay):
	}

	if err := q.runJob(ctx, job); err != nil {
		q.logger.Error("index job failed after retry",
			"tier", job.Tier, "id", job.ID, "error", err)
	}
}

func (q *Queue) runJob(ctx context.Context, job Job) error {
	doc, err := q.loader.GetForIndexing(ctx, job.Tier, job.ID)
	if errors.Is(err, knowledge.ErrNotFound) {
		// Deleted or expired between enqueue and processing.
		q.logger.Debug("skipping index job for missing document",
			"tier", job.Tier, "id", job.ID)
		return nil
	}
	if err != nil {
		q.logger.Warn("loading document for indexing failed",
			"tier", job.Tier, "id", job.ID, "error", err)
		return err
	}
	return q.indexer.Index(ctx, doc)
}

// retryable reports whether a job error is worth a second attempt. An
// unconfigured embedding provider stays unconfigured; everything else may
// clear up within the retry delay.
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, embedding.ErrUnavailable)
}
