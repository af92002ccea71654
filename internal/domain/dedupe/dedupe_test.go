package dedupe_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	dedupe "github.com/okian/villes/internal/domain/dedupe"
	"github.com/okian/villes/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func city(name string) model.Identity {
	return model.Identity{Name: name, Country: "France"}
}

func TestMemoryLedger(t *testing.T) {
	Convey("Given a new memory ledger", t, func() {
		ctx := context.Background()
		l := dedupe.NewMemoryLedger()

		Convey("When an identity is new", func() {
			seen, err := l.SeenAndRecord(ctx, city("Paris"))

			Convey("Then it should return false and record it", func() {
				So(err, ShouldBeNil)
				So(seen, ShouldBeFalse)
				So(l.Size(), ShouldEqual, 1)
			})
		})

		Convey("When an identity is observed twice", func() {
			_, _ = l.SeenAndRecord(ctx, city("Paris"))
			seen, _ := l.SeenAndRecord(ctx, city("Paris"))

			Convey("Then the second observation is an update", func() {
				So(seen, ShouldBeTrue)
				So(l.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the same name exists in two countries", func() {
			_, _ = l.SeenAndRecord(ctx, model.Identity{Name: "Valence", Country: "France"})
			seen, _ := l.SeenAndRecord(ctx, model.Identity{Name: "Valence", Country: "Espagne"})

			Convey("Then they are distinct identities", func() {
				So(seen, ShouldBeFalse)
				So(l.Size(), ShouldEqual, 2)
			})
		})

		Convey("When an identity is unrecorded after a failure", func() {
			_, _ = l.SeenAndRecord(ctx, city("Lyon"))
			l.Unrecord(ctx, city("Lyon"))
			l.Unrecord(ctx, city("Nice"))

			Convey("Then the redelivery counts as new", func() {
				So(l.Size(), ShouldEqual, 0)
				seen, _ := l.SeenAndRecord(ctx, city("Lyon"))
				So(seen, ShouldBeFalse)
			})
		})
	})

	Convey("Given a bounded memory ledger", t, func() {
		ctx := context.Background()
		l := dedupe.NewMemoryLedger(dedupe.WithMaxSize(2))

		Convey("When it is at capacity", func() {
			_, _ = l.SeenAndRecord(ctx, city("A"))
			_, _ = l.SeenAndRecord(ctx, city("B"))
			_, _ = l.SeenAndRecord(ctx, city("C"))

			Convey("Then the oldest identity is evicted", func() {
				So(l.Size(), ShouldEqual, 2)
				seen, _ := l.SeenAndRecord(ctx, city("C"))
				So(seen, ShouldBeTrue)
				seen, _ = l.SeenAndRecord(ctx, city("A"))
				So(seen, ShouldBeFalse)
			})
		})
	})
}

func TestLedgerConcurrency(t *testing.T) {
	Convey("Given a ledger shared by concurrent goroutines", t, func() {
		ctx := context.Background()
		l := dedupe.NewMemoryLedger()

		Convey("When every goroutine records the same 100 identities", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			fresh := 0
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 100; i++ {
						seen, _ := l.SeenAndRecord(ctx, city(fmt.Sprintf("city-%d", i)))
						if !seen {
							mu.Lock()
							fresh++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()

			Convey("Then each identity is new exactly once", func() {
				So(fresh, ShouldEqual, 100)
				So(l.Size(), ShouldEqual, 100)
			})
		})
	})
}

type fakeStore struct {
	keys map[model.Identity]bool
	err  error
}

func (f *fakeStore) Has(_ context.Context, id model.Identity) (bool, error) {
	return f.keys[id], f.err
}

func (f *fakeStore) Count(context.Context) (int, error) {
	return len(f.keys), f.err
}

func TestStoreLedger(t *testing.T) {
	Convey("Given a store-backed ledger", t, func() {
		ctx := context.Background()
		store := &fakeStore{keys: map[model.Identity]bool{city("Paris"): true}}
		l := dedupe.NewStoreLedger(store)

		Convey("When the identity is persisted", func() {
			seen, err := l.SeenAndRecord(ctx, city("Paris"))
			So(err, ShouldBeNil)
			So(seen, ShouldBeTrue)
			So(l.Size(), ShouldEqual, 1)
		})

		Convey("When the identity is unknown", func() {
			seen, err := l.SeenAndRecord(ctx, city("Lyon"))
			So(err, ShouldBeNil)
			So(seen, ShouldBeFalse)
		})

		Convey("When the store fails", func() {
			store.err = errors.New("disk")
			_, err := l.SeenAndRecord(ctx, city("Lyon"))
			So(err, ShouldNotBeNil)
		})
	})
}
