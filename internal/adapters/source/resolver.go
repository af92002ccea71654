package source

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/okian/villes/internal/domain/model"
	"github.com/okian/villes/pkg/logger"
	"github.com/okian/villes/pkg/metrics"
)

// Resolution results, also used as metric labels.
const (
	ResolvedCached     = "cached"
	ResolvedDownloaded = "downloaded"
	ResolvedFailed     = "failed"
)

// Resolver turns image references into local files under dir. Remote images
// are downloaded once, rate-limited, and downscaled in place when larger
// than maxSide. A reference that cannot be resolved becomes nil; the record
// is still kept.
type Resolver struct {
	dir         string
	maxSide     int
	rate        float64
	burst       int
	concurrency int
	userAgent   string
	client      *http.Client
	limiter     *rate.Limiter
	logger      logger.Logger
}

// NewResolver creates a resolver writing into dir.
func NewResolver(dir string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		dir:         dir,
		maxSide:     1024,
		rate:        2,
		burst:       1,
		concurrency: 4,
		userAgent:   "villes-collector/1.0",
		client:      &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	limit := rate.Limit(r.rate)
	if r.rate <= 0 {
		limit = rate.Inf
	}
	if r.burst < 1 {
		r.burst = 1
	}
	r.limiter = rate.NewLimiter(limit, r.burst)
	r.logger = logger.Named("image-resolver")
	return r
}

// ResolveAll resolves every record concurrently and returns them in input
// order. Only ctx cancellation is returned as an error.
func (r *Resolver) ResolveAll(ctx context.Context, cities []model.City) ([]model.City, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir %s: %w", r.dir, err)
	}
	out := make([]model.City, len(cities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, c := range cities {
		g.Go(func() error {
			local, err := r.Resolve(gctx, c)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			c.Image = local
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve returns the local path of the record's image, or nil with the
// reason when it cannot be resolved.
func (r *Resolver) Resolve(ctx context.Context, c model.City) (*string, error) {
	if !c.HasImage() {
		return nil, model.ErrImageUnavailable
	}
	ref := *c.Image
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		if _, statErr := os.Stat(ref); statErr != nil {
			metrics.RecordImageResolved(ResolvedFailed)
			return nil, fmt.Errorf("%w: %s: %w", model.ErrImageUnavailable, ref, statErr)
		}
		metrics.RecordImageResolved(ResolvedCached)
		return &ref, nil
	}

	local := filepath.Join(r.dir, localName(u))
	if _, err := os.Stat(local); err == nil {
		metrics.RecordImageResolved(ResolvedCached)
		return &local, nil
	}

	if err := r.download(ctx, ref, local); err != nil {
		metrics.RecordImageResolved(ResolvedFailed)
		r.logger.Warn(ctx, "image download failed",
			logger.String("identity", c.Identity().String()),
			logger.String("url", ref),
			logger.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", model.ErrImageUnavailable, err)
	}
	metrics.RecordImageResolved(ResolvedDownloaded)
	return &local, nil
}

// imageNamespace keys downloaded files by their full URL.
var imageNamespace = uuid.MustParse("5f0c7a3e-7b1d-4c2e-9a57-3d2b8e6f1c40")

// localName is a UUIDv5 of the whole URL plus the original extension, so two
// images sharing a basename never share a file.
func localName(u *url.URL) string {
	ext := strings.ToLower(path.Ext(u.Path))
	if len(ext) > 6 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return uuid.NewSHA1(imageNamespace, []byte(u.String())).String() + ext
}

// download fetches ref into local, then normalises it. A partial or
// undecodable download leaves no file behind.
func (r *Resolver) download(ctx context.Context, ref, local string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(r.dir, ".download-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := r.normalize(name); err != nil {
		return err
	}
	return os.Rename(name, local)
}

// normalize decodes the file and rewrites it downscaled when one side is
// larger than maxSide, keeping the aspect ratio.
func (r *Resolver) normalize(file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	img, format, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	b := img.Bounds()
	if r.maxSide <= 0 || (b.Dx() <= r.maxSide && b.Dy() <= r.maxSide) {
		return nil
	}

	w, h := fit(b.Dx(), b.Dy(), r.maxSide)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	out, err := os.Create(file)
	if err != nil {
		return err
	}
	if format == "jpeg" {
		err = jpeg.Encode(out, dst, &jpeg.Options{Quality: 90})
	} else {
		err = png.Encode(out, dst)
	}
	if err != nil {
		out.Close()
		return fmt.Errorf("encode: %w", err)
	}
	return out.Close()
}

// fit scales (w, h) so the longer side equals max.
func fit(w, h, max int) (int, int) {
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}
