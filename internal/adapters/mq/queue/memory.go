package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/villes/pkg/metrics"
)

const defaultDuplicateWindow = 2 * time.Minute

type message struct {
	payload    []byte
	deliveries int
}

type memQueue struct {
	pending  []*message
	inFlight int
	ready    chan struct{} // closed and replaced on every publish or requeue
}

// InMemoryBroker implements Broker in process memory. It keeps the
// at-least-once and msg-id dedup semantics of the NATS broker but nothing
// survives a restart.
type InMemoryBroker struct {
	mu              sync.Mutex
	queues          map[string]*memQueue
	msgIDs          map[string]time.Time
	duplicateWindow time.Duration
	now             func() time.Time
	closed          chan struct{}
	closeOnce       sync.Once
}

// NewInMemoryBroker creates an empty broker.
func NewInMemoryBroker(opts ...Option) *InMemoryBroker {
	b := &InMemoryBroker{
		queues:          make(map[string]*memQueue),
		msgIDs:          make(map[string]time.Time),
		duplicateWindow: defaultDuplicateWindow,
		now:             time.Now,
		closed:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Declare creates the named queues.
func (b *InMemoryBroker) Declare(_ context.Context, queues ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed() {
		return ErrClosed
	}
	for _, name := range queues {
		if _, ok := b.queues[name]; !ok {
			b.queues[name] = &memQueue{ready: make(chan struct{})}
		}
	}
	return nil
}

// Publish appends payload to queue unless msgID was published within the
// duplicate window.
func (b *InMemoryBroker) Publish(ctx context.Context, queue string, payload []byte, msgID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.queue(queue)
	if err != nil {
		return err
	}
	if msgID != "" {
		key := queue + "/" + msgID
		now := b.now()
		if at, ok := b.msgIDs[key]; ok && now.Sub(at) < b.duplicateWindow {
			return nil
		}
		b.msgIDs[key] = now
	}

	data := make([]byte, len(payload))
	copy(data, payload)
	q.pending = append(q.pending, &message{payload: data})
	q.signal()
	metrics.RecordPublished(queue)
	return nil
}

// Receive blocks until a message is available on queue.
func (b *InMemoryBroker) Receive(ctx context.Context, queue string) (Delivery, error) {
	for {
		b.mu.Lock()
		q, err := b.queue(queue)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		if d := b.pop(queue, q); d != nil {
			b.mu.Unlock()
			return d, nil
		}
		wait := q.ready
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.closed:
			return nil, ErrClosed
		}
	}
}

// Drain pops up to max pending messages without blocking.
func (b *InMemoryBroker) Drain(_ context.Context, queue string, max int) ([]Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.queue(queue)
	if err != nil {
		return nil, err
	}
	out := make([]Delivery, 0, max)
	for len(out) < max {
		d := b.pop(queue, q)
		if d == nil {
			break
		}
		out = append(out, d)
	}
	return out, nil
}

// Len returns the number of messages waiting on queue, excluding in-flight ones.
func (b *InMemoryBroker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.pending)
	}
	return 0
}

// InFlight returns the number of delivered but unsettled messages on queue.
func (b *InMemoryBroker) InFlight(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return q.inFlight
	}
	return 0
}

// Close wakes every blocked receiver with ErrClosed.
func (b *InMemoryBroker) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

func (b *InMemoryBroker) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// queue must be called with b.mu held.
func (b *InMemoryBroker) queue(name string) (*memQueue, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	q, ok := b.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	return q, nil
}

// pop must be called with b.mu held.
func (b *InMemoryBroker) pop(name string, q *memQueue) *memDelivery {
	if len(q.pending) == 0 {
		return nil
	}
	m := q.pending[0]
	q.pending = q.pending[1:]
	m.deliveries++
	q.inFlight++
	metrics.RecordConsumed(name)
	return &memDelivery{broker: b, queue: q, msg: m}
}

func (q *memQueue) signal() {
	close(q.ready)
	q.ready = make(chan struct{})
}

type memDelivery struct {
	broker  *InMemoryBroker
	queue   *memQueue
	msg     *message
	settled atomic.Bool
}

func (d *memDelivery) Data() []byte { return d.msg.payload }

// Deliveries returns how many times this message has been delivered.
func (d *memDelivery) Deliveries() int { return d.msg.deliveries }

func (d *memDelivery) Ack() error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	d.broker.mu.Lock()
	d.queue.inFlight--
	d.broker.mu.Unlock()
	return nil
}

// Nak puts the message back at the head of the queue.
func (d *memDelivery) Nak() error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()
	d.queue.inFlight--
	d.queue.pending = append([]*message{d.msg}, d.queue.pending...)
	d.queue.signal()
	return nil
}
