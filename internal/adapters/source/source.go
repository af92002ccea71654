// Package source produces raw city records for the Collector and resolves
// their images to local files.
package source

import (
	"context"

	"github.com/okian/villes/internal/domain/model"
)

// Source fetches one batch of city records. Image holds the remote image
// reference as returned by the source, or nil.
type Source interface {
	Fetch(ctx context.Context) ([]model.City, error)
}

// dedupe keeps the first record of every identity.
func dedupe(cities []model.City) []model.City {
	seen := make(map[model.Identity]struct{}, len(cities))
	out := cities[:0]
	for _, c := range cities {
		if _, ok := seen[c.Identity()]; ok {
			continue
		}
		seen[c.Identity()] = struct{}{}
		out = append(out, c)
	}
	return out
}
