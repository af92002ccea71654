package profiles

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/villes/internal/domain/profile"
)

type backend struct {
	name string
	open func(t *testing.T, dir string) profile.Store
}

func backends() []backend {
	return []backend{
		{"json", func(t *testing.T, dir string) profile.Store {
			s, err := NewJSONFileStore(filepath.Join(dir, "users.json"))
			if err != nil {
				t.Fatalf("open json store: %v", err)
			}
			return s
		}},
		{"badger", func(t *testing.T, dir string) profile.Store {
			s, err := OpenBadgerStore(filepath.Join(dir, "profiles"))
			if err != nil {
				t.Fatalf("open badger store: %v", err)
			}
			return s
		}},
	}
}

func closeStore(s profile.Store) {
	if c, ok := s.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

func TestProfileStores(t *testing.T) {
	for _, b := range backends() {
		Convey("Given an empty "+b.name+" profile store", t, func() {
			ctx := context.Background()
			dir := t.TempDir()
			s := b.open(t, dir)
			defer closeStore(s)

			Convey("When an unknown user is read", func() {
				_, ok, err := s.Get(ctx, "alice")
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})

			Convey("When a user logs in and gives feedback", func() {
				_, err := s.Upsert(ctx, "alice", func(p *profile.Profile) error {
					p.Colors = []string{"#ff0000"}
					return nil
				})
				So(err, ShouldBeNil)
				got, err := s.Upsert(ctx, "alice", func(p *profile.Profile) error {
					p.Append([]float64{1, 2, 3}, 1)
					return nil
				})
				So(err, ShouldBeNil)

				Convey("Then the profile accumulates", func() {
					So(got.LabelCount(), ShouldEqual, 1)
					p, ok, err := s.Get(ctx, "alice")
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)
					So(p.Username, ShouldEqual, "alice")
					So(p.Colors, ShouldResemble, []string{"#ff0000"})
					So(p.Features, ShouldResemble, [][]float64{{1, 2, 3}})
					So(p.Labels, ShouldResemble, []int{1})
				})

				Convey("Then a reopened store still has it", func() {
					closeStore(s)
					reopened := b.open(t, dir)
					defer closeStore(reopened)
					p, ok, err := reopened.Get(ctx, "alice")
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)
					So(p.LabelCount(), ShouldEqual, 1)
				})
			})

			Convey("When the mutation fails", func() {
				boom := errors.New("boom")
				_, err := s.Upsert(ctx, "bob", func(p *profile.Profile) error { return boom })

				Convey("Then nothing is persisted and the error is returned as is", func() {
					So(errors.Is(err, boom), ShouldBeTrue)
					So(errors.Is(err, profile.ErrPersistence), ShouldBeFalse)
					_, ok, err := s.Get(ctx, "bob")
					So(err, ShouldBeNil)
					So(ok, ShouldBeFalse)
				})
			})

			Convey("When the username is empty", func() {
				_, err := s.Upsert(ctx, "", func(*profile.Profile) error { return nil })
				So(errors.Is(err, profile.ErrEmptyUsername), ShouldBeTrue)
			})
		})
	}
}

func TestJSONFileStoreDocument(t *testing.T) {
	Convey("Given a users.json store", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "users.json")
		s, err := NewJSONFileStore(path)
		So(err, ShouldBeNil)

		Convey("When two users are saved", func() {
			for _, name := range []string{"alice", "bob"} {
				_, err := s.Upsert(ctx, name, func(p *profile.Profile) error {
					p.Colors = []string{"#00ff00"}
					p.Append([]float64{0.5}, 0)
					return nil
				})
				So(err, ShouldBeNil)
			}

			Convey("Then the document is keyed by username", func() {
				data, err := os.ReadFile(path)
				So(err, ShouldBeNil)
				all, err := profile.DecodeAll(data)
				So(err, ShouldBeNil)
				So(all, ShouldHaveLength, 2)
				So(all["bob"].Labels, ShouldResemble, []int{0})
				So(string(data), ShouldContainSubstring, `"features"`)
			})
		})

		Convey("When the document is corrupt", func() {
			So(os.WriteFile(path, []byte("{"), 0o600), ShouldBeNil)

			Convey("Then writes fail with ErrPersistence", func() {
				_, err := s.Upsert(ctx, "alice", func(*profile.Profile) error { return nil })
				So(errors.Is(err, profile.ErrPersistence), ShouldBeTrue)
			})
		})

		Convey("When the directory disappears", func() {
			So(os.RemoveAll(filepath.Dir(path)), ShouldBeNil)

			Convey("Then the failed write surfaces as ErrPersistence", func() {
				_, err := s.Upsert(ctx, "alice", func(*profile.Profile) error { return nil })
				So(errors.Is(err, profile.ErrPersistence), ShouldBeTrue)
			})
		})
	})
}
