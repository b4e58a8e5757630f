// Package store persists extracted readings. The CSV store is the canonical
// interchange format consumed by the analysis modules; the SQLite and
// Parquet stores are optional mirrors for ad-hoc querying and archival.
package store

import (
	"context"

	"enermon/internal/domain"
)

// CSV column order for extracted readings. Fixed; the analysis loaders
// validate against it.
var ReadingColumns = []string{
	"client_name", "device_id", "device_name", "param_key",
	"timestamp", "value", "extraction_date",
}

// ReadingStore persists a batch of extracted readings.
type ReadingStore interface {
	// WriteReadings persists a batch of readings.
	WriteReadings(ctx context.Context, readings []domain.Reading) error
}
