package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/villes/internal/domain/profile"
	"github.com/okian/villes/internal/domain/ranking"
	"github.com/okian/villes/internal/domain/session"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRegistry(t *testing.T) {
	Convey("Given a registry", t, func() {
		r := session.NewRegistry()
		engine := ranking.NewEngine()
		s, err := session.Open(context.Background(), engine, profile.NewMemoryStore(), "alice", nil, candidates(2))
		So(err, ShouldBeNil)

		Convey("When a session is added", func() {
			id := r.Add(s)

			Convey("Then it can be found by id and listed", func() {
				So(id, ShouldNotBeEmpty)
				got, err := r.Get(id)
				So(err, ShouldBeNil)
				So(got, ShouldEqual, s)
				So(r.Len(), ShouldEqual, 1)
				stats := r.Stats()
				So(stats, ShouldHaveLength, 1)
				So(stats[0].ID, ShouldEqual, id)
				So(stats[0].Username, ShouldEqual, "alice")
			})

			Convey("Then removing it makes the id unknown", func() {
				So(r.Remove(id), ShouldBeTrue)
				So(r.Remove(id), ShouldBeFalse)
				_, err := r.Get(id)
				So(errors.Is(err, session.ErrUnknownSession), ShouldBeTrue)
			})
		})

		Convey("When two sessions are added", func() {
			So(r.Add(s), ShouldNotEqual, r.Add(s))
		})
	})
}
