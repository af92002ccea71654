package ranking_test

import (
	"errors"
	"math"
	"testing"

	"github.com/okian/villes/internal/domain/features"
	"github.com/okian/villes/internal/domain/ranking"
	. "github.com/smartystreets/goconvey/convey"
)

const red = 16711680.0

func v1(mean float64) []float64 {
	return []float64{1000, 10, mean}
}

func TestColdStart(t *testing.T) {
	Convey("Given an engine on the v1 schema and a user who likes red", t, func() {
		e := ranking.NewEngine(ranking.WithSchema(features.V1))
		vectors := [][]float64{v1(red + 500), v1(red - 50), v1(red + 5)}

		Convey("When ranking without a classifier", func() {
			got := e.Order(nil, []string{"#ff0000"}, vectors)

			Convey("Then candidates come in ascending distance order", func() {
				So(got, ShouldResemble, []int{2, 1, 0})
			})
		})

		Convey("When several colours are declared", func() {
			got := e.ColdStart([]string{"#0000ff", "#ff0000"}, [][]float64{v1(255 + 100), v1(red + 1)})

			Convey("Then the nearest declared colour is used", func() {
				So(got, ShouldResemble, []int{1, 0})
			})
		})

		Convey("When no declared colour is parseable", func() {
			got := e.ColdStart([]string{"rouge"}, vectors)

			Convey("Then input order is kept", func() {
				So(got, ShouldResemble, []int{0, 1, 2})
			})
		})

		Convey("When a vector is malformed", func() {
			bad := [][]float64{v1(red), {1, 2}, v1(math.NaN())}
			got := e.ColdStart([]string{"#ff0000"}, bad)

			Convey("Then it is absent from the output", func() {
				So(got, ShouldResemble, []int{0})
			})
		})
	})
}

// separable returns n examples where liked ones have a high mean colour.
func separable(n int) ([][]float64, []int) {
	var xs [][]float64
	var ys []int
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			xs = append(xs, v1(red+float64(i)*1000))
			ys = append(ys, ranking.Like)
		} else {
			xs = append(xs, v1(1000+float64(i)*1000))
			ys = append(ys, ranking.Dislike)
		}
	}
	return xs, ys
}

func TestTrain(t *testing.T) {
	Convey("Given an engine with threshold 10", t, func() {
		e := ranking.NewEngine(ranking.WithSchema(features.V1), ranking.WithThreshold(10))

		Convey("When training on separable examples", func() {
			xs, ys := separable(10)
			c, err := e.Train(xs, ys)

			Convey("Then the classifier separates the training set", func() {
				So(err, ShouldBeNil)
				So(c.Accuracy, ShouldEqual, 1.0)
				So(c.Examples, ShouldEqual, 10)
				So(e.Trainings(), ShouldEqual, 1)
			})

			Convey("And ranking puts liked-looking candidates first", func() {
				got := e.Order(c, nil, [][]float64{v1(5000), v1(red + 2000), v1(red - 1000)})
				So(got[2], ShouldEqual, 0)
			})

			Convey("And equal decisions keep input order", func() {
				got := e.Rank(c, [][]float64{v1(red), v1(red), v1(red)})
				So(got, ShouldResemble, []int{0, 1, 2})
			})
		})

		Convey("When every example has the same label", func() {
			xs, _ := separable(10)
			ys := make([]int, len(xs))
			for i := range ys {
				ys[i] = ranking.Like
			}
			c, err := e.Train(xs, ys)

			Convey("Then training is skipped without a classifier", func() {
				So(errors.Is(err, ranking.ErrInsufficientClassBalance), ShouldBeTrue)
				So(c, ShouldBeNil)
			})
		})

		Convey("When stored vectors belong to another schema version", func() {
			xs, ys := separable(10)
			xs[0] = make([]float64, features.V2.Dim)
			_, err := e.Train(xs, ys)

			Convey("Then they are ignored and the threshold is not met", func() {
				So(errors.Is(err, ranking.ErrNotEnoughExamples), ShouldBeTrue)
			})
		})

		Convey("When the threshold gate is asked", func() {
			So(e.ShouldTrain(9), ShouldBeFalse)
			So(e.ShouldTrain(10), ShouldBeTrue)
			So(e.Threshold(), ShouldEqual, 10)
		})
	})
}
