package features

import (
	"errors"
	"math"
)

// ErrEmptySample is returned when a scaler is fitted on no rows.
var ErrEmptySample = errors.New("cannot fit scaler on empty sample")

// Scaler standardises vectors to zero mean and unit variance per dimension.
// Dimensions with zero variance are centred but not scaled.
type Scaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler computes per-dimension mean and population standard deviation.
// All rows must have the same length.
func FitScaler(rows [][]float64) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, ErrEmptySample
	}
	dim := len(rows[0])
	mean := make([]float64, dim)
	for _, r := range rows {
		for j, x := range r {
			mean[j] += x
		}
	}
	n := float64(len(rows))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, dim)
	for _, r := range rows {
		for j, x := range r {
			d := x - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	return &Scaler{Mean: mean, Scale: scale}, nil
}

// Transform returns a standardised copy of v.
func (s *Scaler) Transform(v []float64) []float64 {
	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = (x - s.Mean[j]) / s.Scale[j]
	}
	return out
}
