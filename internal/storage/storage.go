// Package storage holds the file sinks of the pipeline: raw log batches from
// backfill and routed ride events from listen and decode.
package storage

import (
	"context"

	"cryptoRide/internal/model"
)

// Storage defines a sink for raw log records.
type Storage interface {
	PutLogBatch(logs []model.LogRecord) error
}

// EventStore defines a sink for routed ride events.
type EventStore interface {
	PutEvent(ctx context.Context, event model.RideEvent) error
}
