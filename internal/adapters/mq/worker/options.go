package worker

import (
	"time"

	"github.com/okian/villes/pkg/logger"
)

// Option applies a configuration option to the Enricher.
type Option func(*Enricher)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(e *Enricher) {
		if name != "" {
			e.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(e *Enricher) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithQueue overrides the consumed queue.
func WithQueue(name string) Option {
	return func(e *Enricher) {
		if name != "" {
			e.queue = name
		}
	}
}

// WithRetryDelay sets the pause after a message was handed back for
// redelivery, so a failing sink does not spin the loop.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Enricher) {
		if d >= 0 {
			e.retryDelay = d
		}
	}
}
