package store

import (
	"context"

	"github.com/cesargomez89/inkqueue/internal/domain"
)

// Backend persists the records of one kind. Implementations are not expected to
// serialize writers themselves; Queue holds the per-record lock around every call
// that mutates.
type Backend interface {
	Kind() domain.Kind
	Get(ctx context.Context, id string) (*domain.JobRecord, error)
	List(ctx context.Context, filter domain.Filter) ([]*domain.JobRecord, error)
	// Insert stores a new record. An empty rec.ID is assigned by the backend and
	// written back to rec. hold is called with the final id before the record
	// becomes visible to other readers.
	Insert(ctx context.Context, rec *domain.JobRecord, hold func(id string)) error
	// Save inserts or replaces rec.
	Save(ctx context.Context, rec *domain.JobRecord) error
	Remove(ctx context.Context, id string) error
}
