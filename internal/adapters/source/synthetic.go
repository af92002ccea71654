package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/okian/villes/internal/domain/model"
)

var syntheticCountries = []string{"France", "Italie", "Espagne", "Japon", "Brésil", "Canada"} //nolint:gochecknoglobals // fixture data

// Synthetic generates cities with locally rendered images, for runs without
// network access. Each image is a set of solid horizontal bands.
type Synthetic struct {
	count int
	dir   string
	rng   *rand.Rand
}

var _ Source = (*Synthetic)(nil)

// NewSynthetic creates a source producing count cities per Fetch, writing
// their images into dir. seed fixes the generated values.
func NewSynthetic(count int, dir string, seed int64) *Synthetic {
	return &Synthetic{count: count, dir: dir, rng: rand.New(rand.NewSource(seed))} //nolint:gosec // not security sensitive
}

func (s *Synthetic) Fetch(ctx context.Context) ([]model.City, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrSourceQuery, s.dir, err)
	}
	out := make([]model.City, 0, s.count)
	for i := 0; i < s.count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := uuid.New().String()[:8]
		path := filepath.Join(s.dir, "synthetic-"+id+".png")
		if err := s.render(path); err != nil {
			return nil, fmt.Errorf("%w: render %s: %w", ErrSourceQuery, path, err)
		}
		lat := s.rng.Float64()*170 - 85
		lon := s.rng.Float64()*360 - 180
		out = append(out, model.City{
			Name:        "Ville-" + id,
			Country:     syntheticCountries[s.rng.Intn(len(syntheticCountries))],
			Image:       &path,
			Population:  int64(1000 + s.rng.Intn(5_000_000)),
			Area:        1 + s.rng.Float64()*900,
			Coordinates: model.FormatPoint(model.Coordinates{Latitude: lat, Longitude: lon}),
			Timezone:    "UTC",
		})
	}
	return out, nil
}

func (s *Synthetic) render(path string) error {
	const side = 64
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	bands := 1 + s.rng.Intn(3)
	for b := 0; b < bands; b++ {
		c := color.RGBA{R: uint8(s.rng.Intn(256)), G: uint8(s.rng.Intn(256)), B: uint8(s.rng.Intn(256)), A: 255}
		for y := b * side / bands; y < (b+1)*side/bands; y++ {
			for x := 0; x < side; x++ {
				img.SetRGBA(x, y, c)
			}
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
