// Package dedupe tracks which city identities have already been enriched so
// that broker redelivery turns into an in-place update instead of a new record.
package dedupe

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/okian/villes/internal/domain/model"
)

// Ledger records enriched identities.
type Ledger interface {
	// SeenAndRecord atomically checks whether id was already enriched and
	// records it if not. true means the record must be updated in place.
	SeenAndRecord(ctx context.Context, id model.Identity) (bool, error)

	// Unrecord forgets id after a failed enrichment so the redelivered
	// message is treated as new again.
	Unrecord(ctx context.Context, id model.Identity)

	Size() int64
}

// memoryLedger keeps identities in process memory. Bounded ledgers evict the
// oldest identity first; unbounded ledgers (maxSize <= 0) never evict.
type memoryLedger struct {
	mu      sync.Mutex
	seen    map[model.Identity]*list.Element
	order   *list.List // front = most recently recorded
	maxSize int
	size    atomic.Int64
}

// NewMemoryLedger creates an in-memory ledger owned by one Enricher instance.
func NewMemoryLedger(opts ...Option) Ledger {
	l := &memoryLedger{
		maxSize: 0,
		seen:    make(map[model.Identity]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *memoryLedger) SeenAndRecord(_ context.Context, id model.Identity) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[id]; ok {
		return true, nil
	}
	if l.maxSize > 0 && len(l.seen) >= l.maxSize {
		l.evictOldest()
	}
	l.seen[id] = l.order.PushFront(id)
	l.size.Add(1)
	return false, nil
}

func (l *memoryLedger) Unrecord(_ context.Context, id model.Identity) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.seen[id]; ok {
		l.order.Remove(el)
		delete(l.seen, id)
		l.size.Add(-1)
	}
}

// evictOldest must be called with l.mu held.
func (l *memoryLedger) evictOldest() {
	el := l.order.Back()
	if el == nil {
		return
	}
	l.order.Remove(el)
	delete(l.seen, el.Value.(model.Identity))
	l.size.Add(-1)
}

func (l *memoryLedger) Size() int64 {
	return l.size.Load()
}

// KeyChecker reports whether the persisted store already holds an identity.
type KeyChecker interface {
	Has(ctx context.Context, id model.Identity) (bool, error)
	Count(ctx context.Context) (int, error)
}

// storeLedger answers from the persisted enriched-record store, which makes
// the ledger shared between Enricher instances. The store upsert itself is
// the record step, so Unrecord has nothing to undo.
type storeLedger struct {
	store KeyChecker
}

// NewStoreLedger creates a ledger backed by the enriched-record store.
func NewStoreLedger(store KeyChecker) Ledger {
	return &storeLedger{store: store}
}

func (l *storeLedger) SeenAndRecord(ctx context.Context, id model.Identity) (bool, error) {
	ok, err := l.store.Has(ctx, id)
	if err != nil {
		return false, fmt.Errorf("ledger lookup %s: %w", id, err)
	}
	return ok, nil
}

func (l *storeLedger) Unrecord(context.Context, model.Identity) {}

func (l *storeLedger) Size() int64 {
	n, err := l.store.Count(context.Background())
	if err != nil {
		return 0
	}
	return int64(n)
}
