// Package store defines persistence interfaces for capsule's sinks.
// Implementations exist for PostgreSQL and for process memory.
package store

import (
	"context"

	"capsule-go/internal/domain"
)

// ArchiveRepository stores delivered messages.
// All methods must be safe for concurrent use.
type ArchiveRepository interface {
	// Save stores a new record.
	Save(ctx context.Context, record *domain.Record) error

	// GetByID retrieves a record, or domain.ErrRecordNotFound.
	GetByID(ctx context.Context, id string) (*domain.Record, error)

	// List returns records matching filter, newest first.
	List(ctx context.Context, filter domain.RecordFilter) ([]*domain.Record, error)

	// Close releases any resources held by the repository.
	Close() error
}
