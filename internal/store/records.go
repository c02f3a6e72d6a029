package store

import (
	"context"
	"errors"

	"github.com/JakeFAU/property-monitor/internal/listing"
)

// Batch is a unit of work that is committed once.
type Batch interface {
	// InsertIgnore stores rec unless a record with the same link exists,
	// either committed or staged earlier in this batch. It reports whether a
	// row was inserted.
	InsertIgnore(ctx context.Context, rec listing.Record) (bool, error)
	// Commit makes every staged insert visible.
	Commit(ctx context.Context) error
	// Rollback discards staged inserts. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}

// Writer opens batches.
type Writer interface {
	Begin(ctx context.Context) (Batch, error)
}

// Reader lists persisted records ordered by insertion.
type Reader interface {
	List(ctx context.Context) ([]listing.StoredRecord, error)
}

// RecordStore is the full persistence surface used by the CLI.
type RecordStore interface {
	Writer
	Reader
	Close() error
}

// ErrBatchDone is returned when a batch is used after Commit or Rollback.
var ErrBatchDone = errors.New("batch already committed or rolled back")
