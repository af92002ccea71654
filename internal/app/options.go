package service

import (
	"time"

	"github.com/okian/villes/internal/adapters/mq/queue"
	"github.com/okian/villes/internal/adapters/mq/worker"
	"github.com/okian/villes/internal/adapters/repository"
	"github.com/okian/villes/internal/domain/dedupe"
	"github.com/okian/villes/pkg/logger"
)

// CollectorOption applies a configuration option to the Collector.
type CollectorOption func(*Collector)

// WithResolver resolves image references before publishing.
func WithResolver(r Resolver) CollectorOption {
	return func(c *Collector) {
		c.resolver = r
	}
}

// WithSnapshotPath writes every collected batch to path. Empty disables it.
func WithSnapshotPath(path string) CollectorOption {
	return func(c *Collector) {
		c.snapshotPath = path
	}
}

// WithInterval repeats collection every d; zero runs once.
func WithInterval(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d >= 0 {
			c.interval = d
		}
	}
}

// WithCollectorLogger sets a custom logger for the Collector.
func WithCollectorLogger(l logger.Logger) CollectorOption {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// EnrichmentOption applies a configuration option to the Enrichment service.
type EnrichmentOption func(*Enrichment)

// WithWorkerCount sets the number of Enricher loops.
func WithWorkerCount(count int) EnrichmentOption {
	return func(e *Enrichment) {
		if count > 0 {
			e.workerCount = count
		}
	}
}

// WithPublish enables or disables the processed_images_queue sink.
func WithPublish(enabled bool) EnrichmentOption {
	return func(e *Enrichment) {
		e.publish = enabled
	}
}

// WithRecordStore enables the enriched-record store sink. The store also
// backs the dedup ledger so several processes share it.
func WithRecordStore(store repository.Store) EnrichmentOption {
	return func(e *Enrichment) {
		e.store = store
	}
}

// WithLedger overrides the dedup ledger.
func WithLedger(l dedupe.Ledger) EnrichmentOption {
	return func(e *Enrichment) {
		e.ledger = l
	}
}

// WithBreaker configures the publish sink circuit breaker.
func WithBreaker(s worker.BreakerSettings) EnrichmentOption {
	return func(e *Enrichment) {
		e.breaker = s
	}
}

// WithRetryDelay sets the pause after a message was handed back.
func WithRetryDelay(d time.Duration) EnrichmentOption {
	return func(e *Enrichment) {
		e.retryDelay = &d
	}
}

// RecommenderOption applies a configuration option to the Recommender.
type RecommenderOption func(*Recommender)

// WithCandidateStore reads candidates from the enriched-record store.
func WithCandidateStore(store repository.Store) RecommenderOption {
	return func(r *Recommender) {
		r.store = store
	}
}

// WithCandidateQueue drains candidates from processed_images_queue.
func WithCandidateQueue(d queue.Drainer) RecommenderOption {
	return func(r *Recommender) {
		r.drainer = d
	}
}

// WithDrainBatch sets how many messages one drain call may return.
func WithDrainBatch(n int) RecommenderOption {
	return func(r *Recommender) {
		if n > 0 {
			r.drainBatch = n
		}
	}
}

// WithRecommenderLogger sets a custom logger for the Recommender.
func WithRecommenderLogger(l logger.Logger) RecommenderOption {
	return func(r *Recommender) {
		if l != nil {
			r.logger = l
		}
	}
}
