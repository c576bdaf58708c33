package ingest

import (
	"context"
	"errors"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
)

// WorkerPool fans ingestion jobs out to a fixed number of workers. The
// per-(tenant, uri) lease and per-tenant semaphore inside the pipeline
// still apply on top of the pool's parallelism.
type WorkerPool struct {
	pipeline    *Pipeline
	jobs        chan Request
	concurrency int
	log         hclog.Logger
}

// NewWorkerPool creates a pool with the given worker count.
func NewWorkerPool(pipeline *Pipeline, concurrency int, log hclog.Logger) *WorkerPool {
	if concurrency <= 0 {
		concurrency = 4
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &WorkerPool{
		pipeline:    pipeline,
		jobs:        make(chan Request, concurrency*2),
		concurrency: concurrency,
		log:         log.Named("ingest-pool"),
	}
}

// Submit queues a job, blocking until there is room or the context ends.
func (w *WorkerPool) Submit(ctx context.Context, req Request) error {
	select {
	case w.jobs <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes jobs until the context is cancelled. Job failures are
// logged, not fatal to the pool.
func (w *WorkerPool) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case req := <-w.jobs:
					if _, err := w.pipeline.Ingest(ctx, req); err != nil {
						if errors.Is(err, context.Canceled) {
							return err
						}
						w.log.Error("ingestion failed",
							"tenant_id", req.TenantID,
							"uri", req.URI,
							"error", err,
						)
					}
				}
			}
		})
	}
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
