package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/villes/internal/adapters/mq/queue"
	"github.com/okian/villes/internal/domain/model"
	"github.com/okian/villes/pkg/logger"
)

// Sink receives enriched records. Put must be an idempotent upsert keyed by
// the record identity.
type Sink interface {
	Name() string
	Put(ctx context.Context, rec model.EnrichedCity) error
}

// Upserter is the enriched-record store seen from the Enricher.
type Upserter interface {
	Upsert(ctx context.Context, rec model.EnrichedCity) error
}

// StoreSink upserts into the shared enriched-record store.
type StoreSink struct {
	store Upserter
}

// NewStoreSink wraps an enriched-record store.
func NewStoreSink(store Upserter) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Put(ctx context.Context, rec model.EnrichedCity) error {
	return s.store.Upsert(ctx, rec)
}

// msgNamespace scopes the name-based message ids.
var msgNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("villes:processed_images_queue")) //nolint:gochecknoglobals // constant namespace

// MessageID derives the broker dedup id of an enriched record. Redelivering
// the same record with the same colours yields the same id, so the broker
// drops the second publish inside its duplicate window; new colours get a
// new id and flow through as an update.
func MessageID(rec model.EnrichedCity) string {
	key := rec.Identity().String() + "|" + strings.Join(rec.Colors, ",")
	return uuid.NewSHA1(msgNamespace, []byte(key)).String()
}

// BreakerSettings configures the circuit breaker around the publish sink.
type BreakerSettings struct {
	FailureThreshold uint32
	Timeout          time.Duration
}

// PublishSink publishes onto processed_images_queue behind a circuit
// breaker. While the breaker is open Put fails fast and the inbound message
// goes back to the broker.
type PublishSink struct {
	pub     queue.Publisher
	queue   string
	breaker *gobreaker.CircuitBreaker[interface{}]
}

// NewPublishSink wraps a publisher.
func NewPublishSink(pub queue.Publisher, cfg BreakerSettings) *PublishSink {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	log := logger.Named("publish-sink")
	settings := gobreaker.Settings{
		Name:        "publish_" + queue.ProcessedQueue,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn(context.Background(), "publish breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	}
	return &PublishSink{
		pub:     pub,
		queue:   queue.ProcessedQueue,
		breaker: gobreaker.NewCircuitBreaker[interface{}](settings),
	}
}

func (s *PublishSink) Name() string { return "publish" }

func (s *PublishSink) Put(ctx context.Context, rec model.EnrichedCity) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.Identity(), err)
	}
	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.pub.Publish(ctx, s.queue, payload, MessageID(rec))
	})
	return err
}

// State reports the breaker state, e.g. "closed" or "open".
func (s *PublishSink) State() string {
	return s.breaker.State().String()
}
