// Package ranking orders candidate records for one user: by distance to the
// declared colours before any feedback, then by a per-user perceptron.
package ranking

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/okian/villes/internal/domain/features"
	"github.com/okian/villes/internal/domain/model"
)

// Label values stored in a profile.
const (
	Dislike = 0
	Like    = 1
)

// Classifier is a trained linear model over standardised features.
type Classifier struct {
	Scaler   *features.Scaler
	Weights  []float64
	Bias     float64
	Epochs   int
	Accuracy float64 // on the training set
	Examples int
}

// Decision returns the signed distance of v to the separating hyperplane.
// Higher means more likely to be liked.
func (c *Classifier) Decision(v []float64) float64 {
	x := c.Scaler.Transform(v)
	d := c.Bias
	for j, w := range c.Weights {
		d += w * x[j]
	}
	return d
}

// Engine is stateless apart from its configuration and a training counter;
// all per-user state lives in the profile and the session.
type Engine struct {
	schema    features.Schema
	threshold int
	eta       float64
	maxIter   int
	trainings atomic.Int64
}

// NewEngine creates a ranking engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		schema:    features.V2,
		threshold: 10,
		eta:       0.1,
		maxIter:   1000,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schema returns the active feature schema.
func (e *Engine) Schema() features.Schema { return e.schema }

// Threshold returns the number of labels required before training.
func (e *Engine) Threshold() int { return e.threshold }

// Trainings returns how many times Train has been invoked.
func (e *Engine) Trainings() int64 { return e.trainings.Load() }

// ExtractFeatures projects records with the active schema.
func (e *Engine) ExtractFeatures(records []model.EnrichedCity) features.Set {
	return e.schema.Extract(records)
}

// ShouldTrain reports whether a profile holding n labels has reached the
// training threshold.
func (e *Engine) ShouldTrain(n int) bool {
	return n >= e.threshold
}

// Train fits a perceptron on the labelled examples, from scratch. Examples
// whose length does not match the active schema are ignored. A single-class
// set yields ErrInsufficientClassBalance and no classifier.
func (e *Engine) Train(examples [][]float64, labels []int) (*Classifier, error) {
	e.trainings.Add(1)

	if len(examples) != len(labels) {
		return nil, fmt.Errorf("examples and labels differ in length: %d != %d", len(examples), len(labels))
	}

	var xs [][]float64
	var ys []float64
	classes := map[float64]bool{}
	for i, v := range examples {
		if !e.usable(v) {
			continue
		}
		y := -1.0
		if labels[i] == Like {
			y = 1.0
		}
		xs = append(xs, v)
		ys = append(ys, y)
		classes[y] = true
	}
	if len(xs) < e.threshold {
		return nil, fmt.Errorf("%w: %d usable of %d required", ErrNotEnoughExamples, len(xs), e.threshold)
	}
	if len(classes) < 2 {
		return nil, ErrInsufficientClassBalance
	}

	scaler, err := features.FitScaler(xs)
	if err != nil {
		return nil, err
	}
	std := make([][]float64, len(xs))
	for i, v := range xs {
		std[i] = scaler.Transform(v)
	}

	w := make([]float64, e.schema.Dim)
	var b float64
	epochs := 0
	for epochs < e.maxIter {
		epochs++
		mistakes := 0
		for i, x := range std {
			if ys[i]*(dot(w, x)+b) <= 0 {
				for j := range w {
					w[j] += e.eta * ys[i] * x[j]
				}
				b += e.eta * ys[i]
				mistakes++
			}
		}
		if mistakes == 0 {
			break
		}
	}

	correct := 0
	for i, x := range std {
		if ys[i]*(dot(w, x)+b) > 0 {
			correct++
		}
	}
	return &Classifier{
		Scaler:   scaler,
		Weights:  w,
		Bias:     b,
		Epochs:   epochs,
		Accuracy: float64(correct) / float64(len(std)),
		Examples: len(std),
	}, nil
}

// ColdStart orders vectors by ascending distance between their mean colour
// value and the nearest declared colour. Unparseable declared colours are
// ignored; with none left every candidate is equidistant and input order is
// kept. Malformed vectors are excluded. The result holds indexes into vectors.
func (e *Engine) ColdStart(declared []string, vectors [][]float64) []int {
	var prefs []float64
	for _, s := range declared {
		c, err := model.ParseHex(s)
		if err != nil {
			continue
		}
		prefs = append(prefs, c.Value())
	}

	idx, score := e.candidates(vectors)
	for k, i := range idx {
		mean := vectors[i][features.MeanColorIndex]
		best := 0.0
		for p, pref := range prefs {
			d := math.Abs(mean - pref)
			if p == 0 || d < best {
				best = d
			}
		}
		score[k] = best
	}
	return order(idx, score, func(a, b float64) bool { return a < b })
}

// Rank orders vectors by descending classifier decision. Malformed vectors
// are excluded; equal scores keep input order.
func (e *Engine) Rank(c *Classifier, vectors [][]float64) []int {
	idx, score := e.candidates(vectors)
	for k, i := range idx {
		score[k] = c.Decision(vectors[i])
	}
	return order(idx, score, func(a, b float64) bool { return a > b })
}

// Order picks Rank when a classifier exists and ColdStart otherwise.
func (e *Engine) Order(c *Classifier, declared []string, vectors [][]float64) []int {
	if c == nil {
		return e.ColdStart(declared, vectors)
	}
	return e.Rank(c, vectors)
}

func (e *Engine) usable(v []float64) bool {
	if !e.schema.Valid(v) {
		return false
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func (e *Engine) candidates(vectors [][]float64) ([]int, []float64) {
	idx := make([]int, 0, len(vectors))
	for i, v := range vectors {
		if e.usable(v) {
			idx = append(idx, i)
		}
	}
	return idx, make([]float64, len(idx))
}

func order(idx []int, score []float64, before func(a, b float64) bool) []int {
	pos := make([]int, len(idx))
	for k := range pos {
		pos[k] = k
	}
	sort.SliceStable(pos, func(a, b int) bool { return before(score[pos[a]], score[pos[b]]) })
	out := make([]int, len(pos))
	for k, p := range pos {
		out[k] = idx[p]
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
