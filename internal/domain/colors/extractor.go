// Package colors computes the dominant colours of an image by k-means
// clustering over a downscaled copy of its pixels.
package colors

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register decoders
	_ "image/jpeg" // register decoders
	_ "image/png"  // register decoders
	"os"
	"sort"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoders

	"github.com/okian/villes/internal/domain/model"
)

// Extractor turns an image into its k dominant colours ("#rrggbb"),
// ordered by cluster prominence.
type Extractor interface {
	Extract(ctx context.Context, imagePath string) ([]string, error)
}

// KMeans is an Extractor running Lloyd's algorithm on a side x side sample.
type KMeans struct {
	k          int
	sampleSide int
	maxIter    int
}

// NewKMeans creates a k-means extractor.
func NewKMeans(opts ...Option) *KMeans {
	km := &KMeans{k: 3, sampleSide: 100, maxIter: 50}
	for _, opt := range opts {
		opt(km)
	}
	return km
}

// K returns the number of colours produced per image.
func (km *KMeans) K() int { return km.k }

// Extract opens and decodes imagePath and clusters its pixels. A missing or
// undecodable file yields model.ErrImageUnavailable.
func (km *KMeans) Extract(ctx context.Context, imagePath string) ([]string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrImageUnavailable, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", model.ErrImageUnavailable, imagePath, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return km.ExtractImage(img)
}

// ExtractImage clusters an already decoded image.
func (km *KMeans) ExtractImage(img image.Image) ([]string, error) {
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", model.ErrImageUnavailable)
	}
	pixels := km.sample(img)
	centroids, sizes := km.cluster(pixels)

	order := make([]int, len(centroids))
	for i := range order {
		order[i] = i
	}
	// larger clusters first; equal sizes keep centroid order
	sort.SliceStable(order, func(a, b int) bool { return sizes[order[a]] > sizes[order[b]] })

	out := make([]string, 0, len(order))
	for _, i := range order {
		c := centroids[i]
		out = append(out, model.RGB{R: clamp(c[0]), G: clamp(c[1]), B: clamp(c[2])}.Hex())
	}
	return out, nil
}

// sample resizes img to sampleSide x sampleSide and returns its RGB pixels.
func (km *KMeans) sample(img image.Image) [][3]float64 {
	side := km.sampleSide
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	pixels := make([][3]float64, 0, side*side)
	for i := 0; i+3 < len(dst.Pix); i += 4 {
		pixels = append(pixels, [3]float64{float64(dst.Pix[i]), float64(dst.Pix[i+1]), float64(dst.Pix[i+2])})
	}
	return pixels
}

// cluster runs Lloyd iterations from farthest-point seeds. Empty clusters
// keep their previous centroid so exactly k colours are returned.
func (km *KMeans) cluster(pixels [][3]float64) ([][3]float64, []int) {
	k := km.k
	centroids := seed(pixels, k)

	assign := make([]int, len(pixels))
	for i := range assign {
		assign[i] = -1
	}
	sizes := make([]int, k)

	for iter := 0; iter < km.maxIter; iter++ {
		changed := false
		for p, px := range pixels {
			best := nearest(centroids, px)
			if assign[p] != best {
				assign[p] = best
				changed = true
			}
		}

		sums := make([][3]float64, k)
		for i := range sizes {
			sizes[i] = 0
		}
		for p, px := range pixels {
			c := assign[p]
			sizes[c]++
			sums[c][0] += px[0]
			sums[c][1] += px[1]
			sums[c][2] += px[2]
		}
		for c := range centroids {
			if sizes[c] == 0 {
				continue
			}
			n := float64(sizes[c])
			centroids[c] = [3]float64{sums[c][0] / n, sums[c][1] / n, sums[c][2] / n}
		}
		if !changed {
			break
		}
	}
	return centroids, sizes
}

// seed picks the first pixel, then repeatedly the pixel farthest from every
// seed chosen so far. Ties go to the lowest pixel index.
func seed(pixels [][3]float64, k int) [][3]float64 {
	centroids := make([][3]float64, 0, k)
	centroids = append(centroids, pixels[0])
	dist := make([]float64, len(pixels))
	for i, px := range pixels {
		dist[i] = sqDist(px, pixels[0])
	}
	for len(centroids) < k {
		far := 0
		for i := range dist {
			if dist[i] > dist[far] {
				far = i
			}
		}
		next := pixels[far]
		centroids = append(centroids, next)
		for i, px := range pixels {
			if d := sqDist(px, next); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centroids
}

func sqDist(a, b [3]float64) float64 {
	dr, dg, db := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return dr*dr + dg*dg + db*db
}

func nearest(centroids [][3]float64, px [3]float64) int {
	best, bestDist := 0, -1.0
	for i, c := range centroids {
		d := sqDist(px, c)
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// clamp truncates a channel mean to uint8, matching integer centroid output.
func clamp(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
