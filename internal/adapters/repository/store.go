// Package repository holds the shared enriched-record store: one entry per
// (nom, pays), written by the Enricher and read by the recommender.
package repository

import (
	"context"

	"github.com/okian/villes/internal/domain/model"
)

// Store provides read/write access to enriched records.
type Store interface {
	// Upsert inserts rec or overwrites the stored record with the same
	// identity in place. Repeating the call leaves the same state.
	Upsert(ctx context.Context, rec model.EnrichedCity) error

	// Has reports whether a record with this identity is stored.
	Has(ctx context.Context, id model.Identity) (bool, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// List returns every record in first-insertion order.
	List(ctx context.Context) ([]model.EnrichedCity, error)

	Close() error
}
