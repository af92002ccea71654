package worker_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/villes/internal/adapters/mq/queue"
	"github.com/okian/villes/internal/adapters/mq/worker"
	"github.com/okian/villes/internal/domain/dedupe"
	"github.com/okian/villes/internal/domain/model"
	logging "github.com/okian/villes/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logging.InitWith(os.Stderr, logging.FormatText); err != nil {
		panic(err)
	}
	_ = logging.SetLevelString("error")
	os.Exit(m.Run())
}

// Mock implementations for testing.
type mockExtractor struct {
	mu     sync.Mutex
	colors map[string][]string
}

func newMockExtractor() *mockExtractor {
	return &mockExtractor{colors: make(map[string][]string)}
}

func (m *mockExtractor) Extract(_ context.Context, path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.colors[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrImageUnavailable, path)
	}
	return append([]string(nil), c...), nil
}

func (m *mockExtractor) set(path string, colors ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.colors[path] = colors
}

type mockStore struct {
	mu      sync.Mutex
	records map[model.Identity]model.EnrichedCity
	fail    error
	writes  int
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[model.Identity]model.EnrichedCity)}
}

func (s *mockStore) Upsert(_ context.Context, rec model.EnrichedCity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.writes++
	s.records[rec.Identity()] = rec
	return nil
}

func (s *mockStore) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *mockStore) snapshot() map[model.Identity]model.EnrichedCity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.Identity]model.EnrichedCity, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

type failingPublisher struct{ err error }

func (p failingPublisher) Publish(context.Context, string, []byte, string) error { return p.err }

func cityPayload(name, image string) []byte {
	img := "null"
	if image != "" {
		img = `"` + image + `"`
	}
	return []byte(fmt.Sprintf(`{"nom":%q,"pays":"France","image":%s,"population":2100000,`+
		`"superficie":105.4,"coordonnees":"Point(2.35 48.85)","fuseau_horaire":"Europe/Paris"}`, name, img))
}

func newBroker(t *testing.T) *queue.InMemoryBroker {
	t.Helper()
	b := queue.NewInMemoryBroker()
	if err := b.Declare(context.Background(), queue.VilleQueue, queue.ProcessedQueue); err != nil {
		t.Fatalf("declare: %v", err)
	}
	return b
}

func newEnricher(b *queue.InMemoryBroker, ex *mockExtractor, store *mockStore, opts ...worker.Option) (*worker.Enricher, dedupe.Ledger) {
	ledger := dedupe.NewMemoryLedger()
	sinks := []worker.Sink{
		worker.NewPublishSink(b, worker.BreakerSettings{}),
		worker.NewStoreSink(store),
	}
	opts = append([]worker.Option{worker.WithRetryDelay(0)}, opts...)
	return worker.NewEnricher(b, ex, ledger, sinks, opts...), ledger
}

func processOne(ctx context.Context, t *testing.T, b *queue.InMemoryBroker, e *worker.Enricher) (worker.Outcome, error) {
	t.Helper()
	d, err := b.Receive(ctx, queue.VilleQueue)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return e.Process(ctx, d)
}

func TestEnricherProcess(t *testing.T) {
	convey.Convey("Given an enricher with a publish sink and a store sink", t, func() {
		ctx := context.Background()
		b := newBroker(t)
		ex := newMockExtractor()
		store := newMockStore()
		e, ledger := newEnricher(b, ex, store)
		paris := model.Identity{Name: "Paris", Country: "France"}

		convey.Convey("When a new city is processed", func() {
			ex.set("paris.jpg", "#ff0000", "#00ff00", "#0000ff")
			convey.So(b.Publish(ctx, queue.VilleQueue, cityPayload("Paris", "paris.jpg"), ""), convey.ShouldBeNil)

			out, err := processOne(ctx, t, b, e)

			convey.Convey("Then it is stored, published and acknowledged", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldEqual, worker.OutcomeEnriched)
				convey.So(store.snapshot()[paris].Colors, convey.ShouldResemble, []string{"#ff0000", "#00ff00", "#0000ff"})
				convey.So(b.Len(queue.VilleQueue), convey.ShouldEqual, 0)
				convey.So(b.InFlight(queue.VilleQueue), convey.ShouldEqual, 0)
				convey.So(b.Len(queue.ProcessedQueue), convey.ShouldEqual, 1)
				convey.So(ledger.Size(), convey.ShouldEqual, 1)

				got, err := b.Drain(ctx, queue.ProcessedQueue, 10)
				convey.So(err, convey.ShouldBeNil)
				rec, err := model.DecodeEnriched(got[0].Data())
				convey.So(err, convey.ShouldBeNil)
				convey.So(rec.Identity(), convey.ShouldResemble, paris)
				convey.So(rec.Colors, convey.ShouldHaveLength, 3)
			})
		})

		convey.Convey("When the same city is enriched twice with different colours", func() {
			ex.set("paris.jpg", "#ff0000", "#00ff00", "#0000ff")
			convey.So(b.Publish(ctx, queue.VilleQueue, cityPayload("Paris", "paris.jpg"), ""), convey.ShouldBeNil)
			first, err := processOne(ctx, t, b, e)
			convey.So(err, convey.ShouldBeNil)

			ex.set("paris.jpg", "#111111", "#222222", "#333333")
			convey.So(b.Publish(ctx, queue.VilleQueue, cityPayload("Paris", "paris.jpg"), ""), convey.ShouldBeNil)
			second, err := processOne(ctx, t, b, e)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then exactly one record remains with the latest colours", func() {
				convey.So(first, convey.ShouldEqual, worker.OutcomeEnriched)
				convey.So(second, convey.ShouldEqual, worker.OutcomeUpdated)
				records := store.snapshot()
				convey.So(records, convey.ShouldHaveLength, 1)
				convey.So(records[paris].Colors, convey.ShouldResemble, []string{"#111111", "#222222", "#333333"})
			})
		})

		convey.Convey("When the record has no image", func() {
			convey.So(b.Publish(ctx, queue.VilleQueue, cityPayload("Lyon", ""), ""), convey.ShouldBeNil)

			out, err := processOne(ctx, t, b, e)

			convey.Convey("Then it is acknowledged and dropped", func() {
				convey.So(errors.Is(err, model.ErrImageUnavailable), convey.ShouldBeTrue)
				convey.So(out, convey.ShouldEqual, worker.OutcomeDropped)
				convey.So(b.Len(queue.VilleQueue)+b.InFlight(queue.VilleQueue), convey.ShouldEqual, 0)
				convey.So(store.snapshot(), convey.ShouldBeEmpty)
				convey.So(b.Len(queue.ProcessedQueue), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the image cannot be read", func() {
			convey.So(b.Publish(ctx, queue.VilleQueue, cityPayload("Nice", "missing.jpg"), ""), convey.ShouldBeNil)

			out, _ := processOne(ctx, t, b, e)

			convey.So(out, convey.ShouldEqual, worker.OutcomeDropped)
			convey.So(b.Len(queue.VilleQueue), convey.ShouldEqual, 0)
		})

		convey.Convey("When the payload is malformed", func() {
			convey.So(b.Publish(ctx, queue.VilleQueue, []byte(`{"nom":"","pays":"France"}`), ""), convey.ShouldBeNil)

			out, err := processOne(ctx, t, b, e)

			convey.So(errors.Is(err, model.ErrMalformedRecord), convey.ShouldBeTrue)
			convey.So(out, convey.ShouldEqual, worker.OutcomeDropped)
			convey.So(b.Len(queue.VilleQueue), convey.ShouldEqual, 0)
		})

		convey.Convey("When the store sink fails", func() {
			ex.set("paris.jpg", "#ff0000", "#00ff00", "#0000ff")
			store.setFail(errors.New("disk full"))
			convey.So(b.Publish(ctx, queue.VilleQueue, cityPayload("Paris", "paris.jpg"), ""), convey.ShouldBeNil)

			out, err := processOne(ctx, t, b, e)

			convey.Convey("Then the message is handed back and the ledger forgets it", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(out, convey.ShouldEqual, worker.OutcomeFailed)
				convey.So(b.Len(queue.VilleQueue), convey.ShouldEqual, 1)
				convey.So(ledger.Size(), convey.ShouldEqual, 0)

				convey.Convey("And the redelivery succeeds once the store recovers", func() {
					store.setFail(nil)
					out, err := processOne(ctx, t, b, e)
					convey.So(err, convey.ShouldBeNil)
					convey.So(out, convey.ShouldEqual, worker.OutcomeEnriched)
					convey.So(store.snapshot(), convey.ShouldHaveLength, 1)
					convey.So(b.Len(queue.VilleQueue), convey.ShouldEqual, 0)
				})
			})
		})
	})
}

func TestEnricherRedelivery(t *testing.T) {
	convey.Convey("Given the same message delivered to two independent enrichers", t, func() {
		ctx := context.Background()

		run := func(firstWins bool) (map[model.Identity]model.EnrichedCity, int) {
			b := newBroker(t)
			ex := newMockExtractor()
			ex.set("paris.jpg", "#ff0000", "#00ff00", "#0000ff")
			store := newMockStore()
			a, _ := newEnricher(b, ex, store, worker.WithName("enricher-a"))
			c, _ := newEnricher(b, ex, store, worker.WithName("enricher-b"))

			for i := 0; i < 2; i++ {
				if err := b.Publish(ctx, queue.VilleQueue, cityPayload("Paris", "paris.jpg"), ""); err != nil {
					t.Fatalf("publish: %v", err)
				}
			}
			order := []*worker.Enricher{a, c}
			if !firstWins {
				order = []*worker.Enricher{c, a}
			}
			for _, e := range order {
				if _, err := processOne(ctx, t, b, e); err != nil {
					t.Fatalf("process: %v", err)
				}
			}
			return store.snapshot(), b.Len(queue.ProcessedQueue)
		}

		forward, publishedForward := run(true)
		backward, publishedBackward := run(false)

		convey.Convey("Then the final state is identical in either order", func() {
			convey.So(forward, convey.ShouldHaveLength, 1)
			convey.So(forward, convey.ShouldResemble, backward)
			convey.So(publishedForward, convey.ShouldEqual, 1)
			convey.So(publishedBackward, convey.ShouldEqual, 1)
		})
	})
}

func TestEnricherRun(t *testing.T) {
	convey.Convey("Given a running enricher", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b := newBroker(t)
		ex := newMockExtractor()
		store := newMockStore()
		e, _ := newEnricher(b, ex, store)

		errCh := make(chan error, 1)
		go func() { errCh <- e.Run(ctx) }()

		convey.Convey("When several cities are published", func() {
			for _, name := range []string{"Paris", "Lyon", "Nice"} {
				ex.set(name+".jpg", "#010203", "#040506", "#070809")
				convey.So(b.Publish(ctx, queue.VilleQueue, cityPayload(name, name+".jpg"), ""), convey.ShouldBeNil)
			}

			deadline := time.Now().Add(3 * time.Second)
			for len(store.snapshot()) < 3 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}

			convey.Convey("Then they are all enriched and shutdown is clean", func() {
				convey.So(store.snapshot(), convey.ShouldHaveLength, 3)
				convey.So(e.Shutdown(ctx), convey.ShouldBeNil)
				convey.So(<-errCh, convey.ShouldBeNil)
			})
		})
	})
}

func TestEnricherBrokerLoss(t *testing.T) {
	convey.Convey("Given an enricher whose broker closes", t, func() {
		b := newBroker(t)
		e, _ := newEnricher(b, newMockExtractor(), newMockStore())

		errCh := make(chan error, 1)
		go func() { errCh <- e.Run(context.Background()) }()
		convey.So(b.Close(), convey.ShouldBeNil)

		convey.Convey("Then Run returns the receive error", func() {
			err := <-errCh
			convey.So(errors.Is(err, queue.ErrClosed), convey.ShouldBeTrue)
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of two enrichers on one queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		b := newBroker(t)
		ex := newMockExtractor()
		store := newMockStore()
		pool := worker.NewPool(2, func(i int) worker.Worker {
			e, _ := newEnricher(b, ex, store, worker.WithName(fmt.Sprintf("enricher-%d", i)))
			return e
		})
		convey.So(pool.Size(), convey.ShouldEqual, 2)

		errCh := make(chan error, 1)
		go func() { errCh <- pool.Run(ctx) }()

		for i := 0; i < 10; i++ {
			name := fmt.Sprintf("city-%d", i)
			ex.set(name+".jpg", "#000000", "#7f7f7f", "#ffffff")
			convey.So(b.Publish(ctx, queue.VilleQueue, cityPayload(name, name+".jpg"), ""), convey.ShouldBeNil)
		}
		deadline := time.Now().Add(3 * time.Second)
		for len(store.snapshot()) < 10 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}

		convey.So(store.snapshot(), convey.ShouldHaveLength, 10)
		cancel()
		convey.So(<-errCh, convey.ShouldBeNil)
	})
}

func TestMessageID(t *testing.T) {
	convey.Convey("Given an enriched record", t, func() {
		rec := model.EnrichedCity{
			City:   model.City{Name: "Paris", Country: "France"},
			Colors: []string{"#ff0000", "#00ff00", "#0000ff"},
		}

		convey.Convey("Then the id is stable and follows the colours", func() {
			convey.So(worker.MessageID(rec), convey.ShouldEqual, worker.MessageID(rec))
			other := rec
			other.Colors = []string{"#000000", "#00ff00", "#0000ff"}
			convey.So(worker.MessageID(other), convey.ShouldNotEqual, worker.MessageID(rec))
		})
	})
}

func TestPublishSinkBreaker(t *testing.T) {
	convey.Convey("Given a publish sink whose broker keeps failing", t, func() {
		ctx := context.Background()
		sink := worker.NewPublishSink(failingPublisher{err: errors.New("stream unavailable")},
			worker.BreakerSettings{FailureThreshold: 2, Timeout: time.Minute})
		rec := model.EnrichedCity{City: model.City{Name: "Paris", Country: "France"}, Colors: []string{"#ff0000"}}

		convey.So(sink.Put(ctx, rec), convey.ShouldNotBeNil)
		convey.So(sink.Put(ctx, rec), convey.ShouldNotBeNil)

		convey.Convey("Then the breaker opens and fails fast", func() {
			convey.So(sink.State(), convey.ShouldEqual, "open")
			convey.So(errors.Is(sink.Put(ctx, rec), gobreaker.ErrOpenState), convey.ShouldBeTrue)
		})
	})
}
