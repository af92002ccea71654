package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/okian/villes/internal/adapters/mq/queue"
	"github.com/okian/villes/pkg/metrics"
)

// JetStreamBroker maps every queue onto a work-queue stream with file
// storage whose only subject is the queue name, consumed through one shared
// durable pull consumer. Competing processes therefore split the messages of
// a queue, and a message leaves the stream once it is acknowledged.
type JetStreamBroker struct {
	nc *nats.Conn
	js jetstream.JetStream

	ackWait       time.Duration
	fetchWait     time.Duration
	duplicates    time.Duration
	durablePrefix string

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer
}

var _ queue.Broker = (*JetStreamBroker)(nil)

// NewJetStreamBroker wraps an established connection.
func NewJetStreamBroker(nc *nats.Conn, opts ...Option) (*JetStreamBroker, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	b := &JetStreamBroker{
		nc:            nc,
		js:            js,
		ackWait:       30 * time.Second,
		fetchWait:     time.Second,
		duplicates:    2 * time.Minute,
		durablePrefix: "villes",
		consumers:     make(map[string]jetstream.Consumer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Declare creates or updates the stream and durable consumer of each queue.
func (b *JetStreamBroker) Declare(ctx context.Context, queues ...string) error {
	for _, name := range queues {
		_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:       name,
			Subjects:   []string{name},
			Retention:  jetstream.WorkQueuePolicy,
			Storage:    jetstream.FileStorage,
			Duplicates: b.duplicates,
		})
		if err != nil {
			return fmt.Errorf("declare stream %s: %w", name, err)
		}
		cons, err := b.js.CreateOrUpdateConsumer(ctx, name, jetstream.ConsumerConfig{
			Durable:       b.durablePrefix + "_" + name,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       b.ackWait,
			FilterSubject: name,
		})
		if err != nil {
			return fmt.Errorf("declare consumer %s: %w", name, err)
		}
		b.mu.Lock()
		b.consumers[name] = cons
		b.mu.Unlock()
	}
	return nil
}

// Publish stores payload on the queue stream and waits for the server ack.
func (b *JetStreamBroker) Publish(ctx context.Context, name string, payload []byte, msgID string) error {
	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	if _, err := b.js.Publish(ctx, name, payload, opts...); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	metrics.RecordPublished(name)
	return nil
}

// Receive pulls one message, polling in fetchWait steps until ctx is done.
func (b *JetStreamBroker) Receive(ctx context.Context, name string) (queue.Delivery, error) {
	cons, err := b.consumer(name)
	if err != nil {
		return nil, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := cons.Next(jetstream.FetchMaxWait(b.fetchWait))
		if errors.Is(err, nats.ErrTimeout) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("receive %s: %w", name, err)
		}
		metrics.RecordConsumed(name)
		return delivery{msg: msg}, nil
	}
}

// Drain fetches whatever is available right now, up to max messages.
func (b *JetStreamBroker) Drain(ctx context.Context, name string, max int) ([]queue.Delivery, error) {
	cons, err := b.consumer(name)
	if err != nil {
		return nil, err
	}
	var out []queue.Delivery
	for len(out) < max {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		batch, err := cons.FetchNoWait(max - len(out))
		if err != nil {
			return out, fmt.Errorf("drain %s: %w", name, err)
		}
		got := 0
		for msg := range batch.Messages() {
			out = append(out, delivery{msg: msg})
			metrics.RecordConsumed(name)
			got++
		}
		if err := batch.Error(); err != nil && !isEmpty(err) {
			return out, fmt.Errorf("drain %s: %w", name, err)
		}
		if got == 0 {
			break
		}
	}
	return out, nil
}

// Close closes the underlying connection.
func (b *JetStreamBroker) Close() error {
	b.nc.Close()
	return nil
}

func (b *JetStreamBroker) consumer(name string) (jetstream.Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cons, ok := b.consumers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrUnknownQueue, name)
	}
	return cons, nil
}

func isEmpty(err error) bool {
	return errors.Is(err, jetstream.ErrNoMessages) || errors.Is(err, nats.ErrTimeout)
}

const ackTimeout = 5 * time.Second

type delivery struct {
	msg jetstream.Msg
}

func (d delivery) Data() []byte { return d.msg.Data() }

// Ack waits for the server to confirm the acknowledgement.
func (d delivery) Ack() error {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	return d.msg.DoubleAck(ctx)
}

func (d delivery) Nak() error { return d.msg.Nak() }
