package profile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/okian/villes/internal/domain/profile"
	"github.com/smartystreets/goconvey/convey"
)

func TestParseLabel(t *testing.T) {
	convey.Convey("Given feedback labels", t, func() {
		like, err := profile.ParseLabel("Like")
		convey.So(err, convey.ShouldBeNil)
		convey.So(like, convey.ShouldEqual, 1)

		dislike, err := profile.ParseLabel("dislike")
		convey.So(err, convey.ShouldBeNil)
		convey.So(dislike, convey.ShouldEqual, 0)
		convey.So(profile.LabelName(dislike), convey.ShouldEqual, "dislike")

		_, err = profile.ParseLabel("meh")
		convey.So(errors.Is(err, profile.ErrInvalidLabel), convey.ShouldBeTrue)
	})
}

func TestProfileDocument(t *testing.T) {
	convey.Convey("Given profiles keyed by username", t, func() {
		p := profile.Profile{Username: "alice", Colors: []string{"#ff0000"}}
		p.Append([]float64{1, 2, 3}, 1)
		p.Append([]float64{4, 5, 6}, 0)

		convey.Convey("When they are encoded", func() {
			data, err := profile.EncodeAll(map[string]profile.Profile{"alice": p, "bob": {Username: "bob"}})
			convey.So(err, convey.ShouldBeNil)

			var raw map[string]map[string]interface{}
			convey.So(json.Unmarshal(data, &raw), convey.ShouldBeNil)

			convey.Convey("Then the document uses colors, features and labels keys", func() {
				convey.So(raw["alice"]["colors"], convey.ShouldResemble, []interface{}{"#ff0000"})
				convey.So(raw["alice"]["labels"], convey.ShouldResemble, []interface{}{1.0, 0.0})
				convey.So(raw["bob"]["features"], convey.ShouldResemble, []interface{}{})
			})

			convey.Convey("And decoding restores the profiles", func() {
				back, err := profile.DecodeAll(data)
				convey.So(err, convey.ShouldBeNil)
				convey.So(back["alice"].Username, convey.ShouldEqual, "alice")
				convey.So(back["alice"].Features, convey.ShouldResemble, p.Features)
				convey.So(back["alice"].LabelCount(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When a stored record has more features than labels", func() {
			got := profile.FromRecord("carol", profile.Record{
				Features: [][]float64{{1}, {2}},
				Labels:   []int{1},
			})
			convey.So(got.Features, convey.ShouldHaveLength, 1)
			convey.So(got.Labels, convey.ShouldHaveLength, 1)
		})
	})
}

func TestMemoryStore(t *testing.T) {
	convey.Convey("Given a memory store", t, func() {
		ctx := context.Background()
		s := profile.NewMemoryStore()

		convey.Convey("When a profile is upserted", func() {
			_, err := s.Upsert(ctx, "alice", func(p *profile.Profile) error {
				p.Colors = []string{"#00ff00"}
				p.Append([]float64{1}, 1)
				return nil
			})
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then Get returns an isolated copy", func() {
				p, ok, err := s.Get(ctx, "alice")
				convey.So(err, convey.ShouldBeNil)
				convey.So(ok, convey.ShouldBeTrue)
				p.Features[0][0] = 42

				again, _, _ := s.Get(ctx, "alice")
				convey.So(again.Features[0][0], convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the mutation fails", func() {
			_, err := s.Upsert(ctx, "alice", func(p *profile.Profile) error {
				p.Append([]float64{1}, 1)
				return profile.ErrInvalidLabel
			})

			convey.Convey("Then the error is returned and nothing is stored", func() {
				convey.So(errors.Is(err, profile.ErrInvalidLabel), convey.ShouldBeTrue)
				_, ok, _ := s.Get(ctx, "alice")
				convey.So(ok, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the username is empty", func() {
			_, err := s.Upsert(ctx, "", func(p *profile.Profile) error { return nil })
			convey.So(errors.Is(err, profile.ErrEmptyUsername), convey.ShouldBeTrue)
		})
	})
}
