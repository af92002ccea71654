package queue

import "time"

// Option applies a configuration option to the InMemoryBroker.
type Option func(*InMemoryBroker)

// WithDuplicateWindow sets how long a msgID suppresses republishing.
func WithDuplicateWindow(d time.Duration) Option {
	return func(b *InMemoryBroker) {
		if d >= 0 {
			b.duplicateWindow = d
		}
	}
}

// WithClock replaces the time source used for the duplicate window.
func WithClock(now func() time.Time) Option {
	return func(b *InMemoryBroker) {
		if now != nil {
			b.now = now
		}
	}
}
