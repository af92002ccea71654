package dedupe

// Option applies a configuration option to the in-memory ledger.
type Option func(*memoryLedger)

// WithMaxSize bounds the number of identities kept in memory.
// If maxSize > 0: bounded mode, the oldest identity is evicted first.
// If maxSize <= 0: unbounded mode (no eviction, no size limit).
func WithMaxSize(maxSize int) Option {
	return func(l *memoryLedger) {
		l.maxSize = maxSize
	}
}
