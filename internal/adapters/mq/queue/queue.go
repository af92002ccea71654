// Package queue defines the contract between pipeline stages and the durable
// queue broker, plus an in-memory broker used by tests and single-process
// runs.
//
// Delivery is at-least-once: a message is removed only when its Delivery is
// acknowledged; Nak puts it back for redelivery.
package queue

import (
	"context"
)

// Queue names shared by every stage.
const (
	VilleQueue     = "ville_queue"
	ProcessedQueue = "processed_images_queue"
)

// Delivery is one received message awaiting settlement.
type Delivery interface {
	Data() []byte
	// Ack removes the message from the queue.
	Ack() error
	// Nak asks the broker to redeliver the message.
	Nak() error
}

// Publisher persists a message on a queue before returning. msgID lets the
// broker drop a duplicate publish of the same message.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload []byte, msgID string) error
}

// Receiver blocks until a message is available or ctx is done.
type Receiver interface {
	Receive(ctx context.Context, queue string) (Delivery, error)
}

// Drainer returns up to max currently available messages without waiting
// for more. An empty queue yields an empty slice.
type Drainer interface {
	Drain(ctx context.Context, queue string, max int) ([]Delivery, error)
}

// Broker is the full contract implemented by the in-memory and NATS brokers.
type Broker interface {
	Publisher
	Receiver
	Drainer
	// Declare creates the durable queues if they do not exist yet.
	Declare(ctx context.Context, queues ...string) error
	Close() error
}
