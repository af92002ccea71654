package service

import (
	"context"
	"strconv"
	"time"

	"github.com/okian/villes/internal/adapters/mq/queue"
	"github.com/okian/villes/internal/adapters/mq/worker"
	"github.com/okian/villes/internal/adapters/repository"
	"github.com/okian/villes/internal/domain/colors"
	"github.com/okian/villes/internal/domain/dedupe"
	"github.com/okian/villes/pkg/logger"
)

// Broker is what the Enrichment service needs from the queue broker.
type Broker interface {
	queue.Receiver
	queue.Publisher
}

// Enrichment runs a pool of Enrichers consuming ville_queue and writing to
// processed_images_queue and/or the enriched-record store.
type Enrichment struct {
	broker    Broker
	extractor colors.Extractor

	workerCount int
	publish     bool
	store       repository.Store
	ledger      dedupe.Ledger
	breaker     worker.BreakerSettings
	retryDelay  *time.Duration

	pool   *worker.Pool
	logger logger.Logger
}

// NewEnrichment builds the sinks, the ledger and the worker pool.
func NewEnrichment(broker Broker, extractor colors.Extractor, opts ...EnrichmentOption) (*Enrichment, error) {
	e := &Enrichment{
		broker:      broker,
		extractor:   extractor,
		workerCount: 1,
		publish:     true,
		logger:      logger.Named("enrichment"),
	}
	for _, opt := range opts {
		opt(e)
	}

	var sinks []worker.Sink
	if e.publish {
		sinks = append(sinks, worker.NewPublishSink(broker, e.breaker))
	}
	if e.store != nil {
		sinks = append(sinks, worker.NewStoreSink(e.store))
	}
	if len(sinks) == 0 {
		return nil, ErrNoSinks
	}

	if e.ledger == nil {
		if e.store != nil {
			e.ledger = dedupe.NewStoreLedger(e.store)
		} else {
			e.ledger = dedupe.NewMemoryLedger()
		}
	}

	e.pool = worker.NewPool(e.workerCount, func(i int) worker.Worker {
		wopts := []worker.Option{worker.WithName("enricher-" + strconv.Itoa(i))}
		if e.retryDelay != nil {
			wopts = append(wopts, worker.WithRetryDelay(*e.retryDelay))
		}
		return worker.NewEnricher(broker, extractor, e.ledger, sinks, wopts...)
	})
	return e, nil
}

// Run blocks until ctx is done or a worker fails.
func (e *Enrichment) Run(ctx context.Context) error {
	e.logger.Info(ctx, "enrichment started",
		logger.Int("workers", e.pool.Size()),
		logger.Bool("publish", e.publish),
		logger.Bool("store", e.store != nil),
	)
	err := e.pool.Run(ctx)
	e.logger.Info(context.Background(), "enrichment stopped")
	return err
}

// Shutdown stops every worker after its in-flight message.
func (e *Enrichment) Shutdown(ctx context.Context) error {
	return e.pool.Shutdown(ctx)
}

// GetStats returns enrichment statistics for monitoring.
func (e *Enrichment) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"workerCount": e.pool.Size(),
		"publish":     e.publish,
		"store":       e.store != nil,
		"ledgerSize":  e.ledger.Size(),
	}
}
