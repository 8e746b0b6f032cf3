// Package store persists materialized records in a partition/sort-key layout:
// partition key GridID, sort key Timestamp, with a secondary index on
// LocationName for name lookups. No transactional guarantees are assumed
// across records.
package store

import (
	"context"

	"github.com/gridwx/weather-grid-service/internal/dataset"
)

// Store is the key-value collaborator the pipeline uploads to and the query
// path reads from.
type Store interface {
	// PutBatch writes a batch of fully-materialized records. Re-running an
	// upload overwrites rather than duplicates.
	PutBatch(ctx context.Context, recs []dataset.Record) error
	// RecordsByGrid returns every record in one partition, in deterministic
	// (kind, timestamp, name) order.
	RecordsByGrid(ctx context.Context, gridID string) ([]dataset.Record, error)
	// LookupsByName returns CityLookup rows matching a location name via
	// the name index, most populated first. Matching is case-insensitive.
	LookupsByName(ctx context.Context, name string) ([]dataset.Record, error)
	Close() error
}
