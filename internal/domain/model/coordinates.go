package model

import (
	"fmt"
	"math"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// ParseCoordinates parses the WKT point "Point(lon lat)" carried by records.
func ParseCoordinates(s string) (Coordinates, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Coordinates{}, fmt.Errorf("%w: missing coordinates", ErrMalformedRecord)
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: coordinates %q: %w", ErrMalformedRecord, s, err)
	}
	p, ok := g.(*geom.Point)
	if !ok || p.Empty() {
		return Coordinates{}, fmt.Errorf("%w: coordinates %q are not a point", ErrMalformedRecord, s)
	}
	lon, lat := p.X(), p.Y()
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Coordinates{}, fmt.Errorf("%w: coordinates %q out of range", ErrMalformedRecord, s)
	}
	return Coordinates{Latitude: lat, Longitude: lon}, nil
}

// FormatPoint renders coordinates as "Point(lon lat)".
func FormatPoint(c Coordinates) string {
	return fmt.Sprintf("Point(%g %g)", c.Longitude, c.Latitude)
}
