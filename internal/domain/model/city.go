// Package model contains the city records passed between pipeline stages
// together with their wire codecs.
package model

import (
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"
)

// Identity is the stable key of a city record.
type Identity struct {
	Name    string
	Country string
}

// String renders the identity as "name|country".
func (id Identity) String() string {
	return id.Name + "|" + id.Country
}

// City is a collected city record as published on ville_queue.
type City struct {
	Name        string
	Country     string
	Image       *string // nil when no local image could be resolved
	Population  int64
	Area        float64
	Coordinates string // WKT "Point(lon lat)", parsed lazily
	Timezone    string
}

// Identity returns the (name, country) key.
func (c City) Identity() Identity {
	return Identity{Name: c.Name, Country: c.Country}
}

// HasImage reports whether the record carries an image reference.
func (c City) HasImage() bool {
	return c.Image != nil && *c.Image != ""
}

// EnrichedCity is a City with its dominant colours, as published on
// processed_images_queue and kept in the enriched-record store.
type EnrichedCity struct {
	City
	Colors []string // "#rrggbb", ordered by cluster prominence
}

// wireCity is the JSON shape shared by both queues and the record store.
type wireCity struct {
	Name        string   `json:"nom"`
	Country     string   `json:"pays"`
	Image       *string  `json:"image"`
	Population  *float64 `json:"population"`
	Area        *float64 `json:"superficie"`
	Coordinates string   `json:"coordonnees"`
	Timezone    string   `json:"fuseau_horaire"`
	Colors      []string `json:"couleurs_dominantes,omitempty"`
}

func toWire(c City) wireCity {
	pop := float64(c.Population)
	area := c.Area
	w := wireCity{
		Name:        c.Name,
		Country:     c.Country,
		Population:  &pop,
		Area:        &area,
		Coordinates: c.Coordinates,
		Timezone:    c.Timezone,
	}
	if c.HasImage() {
		img := *c.Image
		w.Image = &img
	}
	return w
}

func (w wireCity) city() (City, error) {
	name := strings.TrimSpace(w.Name)
	country := strings.TrimSpace(w.Country)
	switch {
	case name == "":
		return City{}, fmt.Errorf("%w: missing nom", ErrMalformedRecord)
	case country == "":
		return City{}, fmt.Errorf("%w: %s: missing pays", ErrMalformedRecord, name)
	case w.Population == nil || *w.Population < 0 || *w.Population != math.Trunc(*w.Population):
		return City{}, fmt.Errorf("%w: %s: population must be a non-negative integer", ErrMalformedRecord, name)
	case w.Area == nil || !(*w.Area > 0):
		return City{}, fmt.Errorf("%w: %s: superficie must be positive", ErrMalformedRecord, name)
	}
	c := City{
		Name:        name,
		Country:     country,
		Population:  int64(*w.Population),
		Area:        *w.Area,
		Coordinates: w.Coordinates,
		Timezone:    w.Timezone,
	}
	if w.Image != nil && *w.Image != "" {
		img := *w.Image
		c.Image = &img
	}
	return c, nil
}

func decodeWire(data []byte) (wireCity, City, error) {
	var w wireCity
	if err := json.Unmarshal(data, &w); err != nil {
		return w, City{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	c, err := w.city()
	return w, c, err
}

// MarshalJSON encodes the ville_queue wire shape.
func (c City) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(c))
}

// UnmarshalJSON decodes and validates the ville_queue wire shape.
func (c *City) UnmarshalJSON(data []byte) error {
	city, err := DecodeCity(data)
	if err != nil {
		return err
	}
	*c = city
	return nil
}

// MarshalJSON encodes the processed_images_queue wire shape.
func (e EnrichedCity) MarshalJSON() ([]byte, error) {
	w := toWire(e.City)
	w.Colors = e.Colors
	return json.Marshal(w)
}

// UnmarshalJSON decodes the processed_images_queue wire shape.
func (e *EnrichedCity) UnmarshalJSON(data []byte) error {
	enriched, err := DecodeEnriched(data)
	if err != nil {
		return err
	}
	*e = enriched
	return nil
}

// DecodeCity decodes and validates a ville_queue payload. Any field beyond
// the identity that fails validation yields ErrMalformedRecord.
func DecodeCity(data []byte) (City, error) {
	_, c, err := decodeWire(data)
	return c, err
}

// DecodeEnriched decodes a processed_images_queue payload. Colours are kept
// verbatim; their validity is checked at feature extraction.
func DecodeEnriched(data []byte) (EnrichedCity, error) {
	w, c, err := decodeWire(data)
	if err != nil {
		return EnrichedCity{}, err
	}
	return EnrichedCity{City: c, Colors: w.Colors}, nil
}
