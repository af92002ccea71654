// Package worker runs the Enricher: a blocking receive, enrich, acknowledge
// loop over ville_queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/villes/internal/adapters/mq/queue"
	"github.com/okian/villes/internal/domain/colors"
	"github.com/okian/villes/internal/domain/dedupe"
	"github.com/okian/villes/internal/domain/model"
	"github.com/okian/villes/pkg/logger"
	"github.com/okian/villes/pkg/metrics"
)

const (
	defaultRetryDelay     = time.Second
	workerShutdownTimeout = 5 * time.Second
)

// Outcome of processing one delivery.
type Outcome string

// Outcomes, also used as metric labels.
const (
	OutcomeEnriched Outcome = "enriched" // first time this identity was stored
	OutcomeUpdated  Outcome = "updated"  // colours overwritten in place
	OutcomeDropped  Outcome = "dropped"  // permanent per-record condition, acked
	OutcomeFailed   Outcome = "failed"   // transient failure, redelivery requested
)

// Worker processes deliveries until ctx is canceled.
type Worker interface {
	// Run starts the worker loop. It returns nil when ctx is canceled or the
	// worker is shut down, and an error when the broker fails underneath it.
	Run(ctx context.Context) error

	// Shutdown stops the loop after the in-flight message is settled.
	Shutdown(ctx context.Context) error
}

// Enricher holds one message in flight at a time. Several Enrichers may
// consume the same queue; the idempotent sinks make them converge.
type Enricher struct {
	receiver  queue.Receiver
	extractor colors.Extractor
	ledger    dedupe.Ledger
	sinks     []Sink

	queue      string
	name       string
	retryDelay time.Duration

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

var _ Worker = (*Enricher)(nil)

// NewEnricher creates an Enricher reading from ville_queue.
func NewEnricher(receiver queue.Receiver, extractor colors.Extractor, ledger dedupe.Ledger, sinks []Sink, opts ...Option) *Enricher {
	e := &Enricher{
		receiver:   receiver,
		extractor:  extractor,
		ledger:     ledger,
		sinks:      sinks,
		queue:      queue.VilleQueue,
		name:       "enricher",
		retryDelay: defaultRetryDelay,
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Named(e.name)
	}
	return e
}

// Run starts the worker loop.
func (e *Enricher) Run(ctx context.Context) error {
	defer close(e.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	e.logger.Info(ctx, "enricher started", logger.String("queue", e.queue))
	for {
		d, err := e.receiver.Receive(ctx, e.queue)
		if err != nil {
			if ctx.Err() != nil {
				e.logger.Info(ctx, "enricher stopped")
				return nil
			}
			metrics.RecordErrorByComponent("enricher", "receive")
			return fmt.Errorf("receive from %s: %w", e.queue, err)
		}

		if out, _ := e.Process(ctx, d); out == OutcomeFailed {
			if !sleep(ctx, e.retryDelay) {
				return nil
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (e *Enricher) Shutdown(ctx context.Context) error {
	select {
	case <-e.shutdown:
	default:
		close(e.shutdown)
	}

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		e.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Process enriches one delivery and settles it. Permanent per-record errors
// are acknowledged and dropped; everything else is negatively acknowledged so
// the broker redelivers the message.
func (e *Enricher) Process(ctx context.Context, d queue.Delivery) (Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.RecordEnrichLatency(float64(time.Since(start).Milliseconds()))
	}()

	rec, err := e.enrich(ctx, d.Data())
	if err != nil {
		if model.IsPermanent(err) {
			e.logger.Warn(ctx, "dropping message",
				logger.String("queue", e.queue),
				logger.String("identity", rec.Identity().String()),
				logger.Error(err),
			)
			e.settle(ctx, d, true)
			metrics.RecordEnrichOutcome(string(OutcomeDropped))
			return OutcomeDropped, err
		}
		return e.fail(ctx, d, rec.Identity(), err)
	}

	id := rec.Identity()
	seen, err := e.ledger.SeenAndRecord(ctx, id)
	if err != nil {
		return e.fail(ctx, d, id, err)
	}

	for _, s := range e.sinks {
		if err := s.Put(ctx, rec); err != nil {
			metrics.RecordSinkFailure(s.Name())
			if !seen {
				e.ledger.Unrecord(ctx, id)
			}
			return e.fail(ctx, d, id, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}

	out := OutcomeEnriched
	if seen {
		out = OutcomeUpdated
	}
	e.settle(ctx, d, true)
	metrics.RecordEnrichOutcome(string(out))
	e.logger.Debug(ctx, "record enriched",
		logger.String("identity", id.String()),
		logger.String("outcome", string(out)),
		logger.Strings("colors", rec.Colors),
	)
	return out, nil
}

// enrich decodes the payload and extracts the dominant colours. The returned
// record carries whatever identity could be decoded, for logging.
func (e *Enricher) enrich(ctx context.Context, data []byte) (model.EnrichedCity, error) {
	city, err := model.DecodeCity(data)
	if err != nil {
		return model.EnrichedCity{City: city}, err
	}
	if !city.HasImage() {
		return model.EnrichedCity{City: city}, fmt.Errorf("%w: no image reference", model.ErrImageUnavailable)
	}
	cols, err := e.extractor.Extract(ctx, *city.Image)
	if err != nil {
		return model.EnrichedCity{City: city}, err
	}
	return model.EnrichedCity{City: city, Colors: cols}, nil
}

func (e *Enricher) fail(ctx context.Context, d queue.Delivery, id model.Identity, err error) (Outcome, error) {
	e.logger.Error(ctx, "enrichment failed, message will be redelivered",
		logger.String("queue", e.queue),
		logger.String("identity", id.String()),
		logger.Error(err),
	)
	metrics.RecordErrorByComponent("enricher", "enrich")
	metrics.RecordEnrichOutcome(string(OutcomeFailed))
	e.settle(ctx, d, false)
	return OutcomeFailed, err
}

func (e *Enricher) settle(ctx context.Context, d queue.Delivery, ack bool) {
	var err error
	if ack {
		err = d.Ack()
	} else {
		err = d.Nak()
	}
	if err != nil && !errors.Is(err, queue.ErrAlreadySettled) {
		e.logger.Warn(ctx, "settling message failed", logger.Bool("ack", ack), logger.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
