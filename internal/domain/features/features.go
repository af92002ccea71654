// Package features projects enriched city records onto numeric vectors.
//
// Two schema versions exist. V2 is the canonical rich vector:
//
//	[population, area, meanColorValue, latitude, longitude, countryHash, hist0..hist7]
//
// V1 keeps the original three-dimensional projection
// [population, area, meanColorValue]. Every vector of a schema has the same
// length; records that cannot fill every dimension are excluded, never padded.
package features

import (
	"fmt"
	"hash/fnv"
	"math"

	"github.com/okian/villes/internal/domain/model"
)

// MeanColorIndex is the position of meanColorValue in every schema.
const MeanColorIndex = 2

// HistogramBins is the number of colour-histogram dimensions in V2.
const HistogramBins = 8

const (
	dimV1 = 3
	dimV2 = 6 + HistogramBins
)

// Schema is a versioned feature projection.
type Schema struct {
	Version string
	Dim     int
	project func(model.EnrichedCity, []model.RGB) ([]float64, error)
}

// Schema versions.
var (
	V1 = Schema{Version: "v1", Dim: dimV1, project: projectV1}
	V2 = Schema{Version: "v2", Dim: dimV2, project: projectV2}
)

// Lookup returns the schema for a version name.
func Lookup(version string) (Schema, error) {
	switch version {
	case V1.Version:
		return V1, nil
	case V2.Version, "":
		return V2, nil
	}
	return Schema{}, fmt.Errorf("unknown feature schema %q", version)
}

// Vector projects one record. Malformed colours or coordinates yield
// model.ErrMalformedRecord. The same record always yields the same vector.
func (s Schema) Vector(rec model.EnrichedCity) ([]float64, error) {
	colors, err := model.ParseColors(rec.Colors)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rec.Identity(), err)
	}
	v, err := s.project(rec, colors)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rec.Identity(), err)
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%s: %w: non-finite feature", rec.Identity(), model.ErrMalformedRecord)
		}
	}
	return v, nil
}

// Valid reports whether a stored vector belongs to this schema.
func (s Schema) Valid(v []float64) bool {
	return len(v) == s.Dim
}

// Exclusion names a record left out of a Set and why.
type Exclusion struct {
	Index int
	Err   error
}

// Set holds the vectors of the well-formed records of a batch. Refs[i] is the
// index, in the input batch, of the record Vectors[i] was computed from.
type Set struct {
	Vectors  [][]float64
	Refs     []int
	Excluded []Exclusion
}

// Len returns the number of usable vectors.
func (s Set) Len() int { return len(s.Vectors) }

// Extract projects a batch, keeping input order and excluding malformed
// records.
func (s Schema) Extract(records []model.EnrichedCity) Set {
	set := Set{
		Vectors: make([][]float64, 0, len(records)),
		Refs:    make([]int, 0, len(records)),
	}
	for i, rec := range records {
		v, err := s.Vector(rec)
		if err != nil {
			set.Excluded = append(set.Excluded, Exclusion{Index: i, Err: err})
			continue
		}
		set.Vectors = append(set.Vectors, v)
		set.Refs = append(set.Refs, i)
	}
	return set
}

// MeanColorValue averages the packed 0xRRGGBB values of the colours.
func MeanColorValue(colors []model.RGB) float64 {
	if len(colors) == 0 {
		return 0
	}
	var sum float64
	for _, c := range colors {
		sum += c.Value()
	}
	return sum / float64(len(colors))
}

// CountryHash maps a country name into [0, 1] with FNV-1a.
func CountryHash(country string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(country))
	return float64(h.Sum32()) / math.MaxUint32
}

// Histogram buckets colours by the high bit of each channel and returns the
// share of colours per bucket.
func Histogram(colors []model.RGB) [HistogramBins]float64 {
	var hist [HistogramBins]float64
	if len(colors) == 0 {
		return hist
	}
	for _, c := range colors {
		bin := int(c.R>>7)<<2 | int(c.G>>7)<<1 | int(c.B>>7)
		hist[bin]++
	}
	for i := range hist {
		hist[i] /= float64(len(colors))
	}
	return hist
}

func projectV1(rec model.EnrichedCity, colors []model.RGB) ([]float64, error) {
	return []float64{float64(rec.Population), rec.Area, MeanColorValue(colors)}, nil
}

func projectV2(rec model.EnrichedCity, colors []model.RGB) ([]float64, error) {
	coords, err := model.ParseCoordinates(rec.Coordinates)
	if err != nil {
		return nil, err
	}
	v := make([]float64, 0, dimV2)
	v = append(v,
		float64(rec.Population),
		rec.Area,
		MeanColorValue(colors),
		coords.Latitude,
		coords.Longitude,
		CountryHash(rec.Country),
	)
	hist := Histogram(colors)
	v = append(v, hist[:]...)
	return v, nil
}
