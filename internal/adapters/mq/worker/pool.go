package worker

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/okian/villes/pkg/logger"
)

// Factory builds the i-th worker of a pool.
type Factory func(i int) Worker

// Pool runs independent Enricher instances against the same queue.
type Pool struct {
	workers []Worker
	logger  logger.Logger
}

// NewPool creates workerCount workers from factory.
func NewPool(workerCount int, factory Factory) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	p := &Pool{
		workers: make([]Worker, workerCount),
		logger:  logger.Named("worker-pool"),
	}
	for i := range p.workers {
		p.workers[i] = factory(i)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Run blocks until every worker has returned. The first worker error cancels
// the others and is returned.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, w := range p.workers {
		g.Go(func() error {
			if err := w.Run(ctx); err != nil {
				p.logger.Error(ctx, "worker failed", logger.String("worker", "enricher-"+strconv.Itoa(i)), logger.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Shutdown stops all workers, waiting at most until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	var first error
	for i, w := range p.workers {
		if err := w.Shutdown(ctx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
