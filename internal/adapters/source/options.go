package source

import (
	"net/http"

	"github.com/okian/villes/pkg/logger"
)

// WikidataOption applies a configuration option to the Wikidata source.
type WikidataOption func(*Wikidata)

// WithLanguage sets the label language, e.g. "fr" or "fr,en".
func WithLanguage(lang string) WikidataOption {
	return func(w *Wikidata) {
		if lang != "" {
			w.language = lang
		}
	}
}

// WithLimit sets the LIMIT of the query.
func WithLimit(n int) WikidataOption {
	return func(w *Wikidata) {
		if n > 0 {
			w.limit = n
		}
	}
}

// WithUserAgent sets the User-Agent header. The public endpoint rejects
// anonymous clients.
func WithUserAgent(ua string) WikidataOption {
	return func(w *Wikidata) {
		if ua != "" {
			w.userAgent = ua
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) WikidataOption {
	return func(w *Wikidata) {
		if c != nil {
			w.client = c
		}
	}
}

// WithWikidataLogger sets the logger used for skipped rows.
func WithWikidataLogger(l logger.Logger) WikidataOption {
	return func(w *Wikidata) {
		w.logger = l
	}
}

// ResolverOption applies a configuration option to the Resolver.
type ResolverOption func(*Resolver)

// WithMaxSide sets the largest allowed image side; larger images are
// downscaled in place. Zero disables resizing.
func WithMaxSide(n int) ResolverOption {
	return func(r *Resolver) {
		if n >= 0 {
			r.maxSide = n
		}
	}
}

// WithRate limits downloads to perSecond with the given burst.
func WithRate(perSecond float64, burst int) ResolverOption {
	return func(r *Resolver) {
		r.rate = perSecond
		r.burst = burst
	}
}

// WithConcurrency bounds the number of images resolved in parallel.
func WithConcurrency(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithResolverUserAgent sets the User-Agent of image downloads.
func WithResolverUserAgent(ua string) ResolverOption {
	return func(r *Resolver) {
		if ua != "" {
			r.userAgent = ua
		}
	}
}

// WithResolverClient replaces the download HTTP client.
func WithResolverClient(c *http.Client) ResolverOption {
	return func(r *Resolver) {
		if c != nil {
			r.client = c
		}
	}
}
