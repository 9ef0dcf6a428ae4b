// Package memory provides in-memory implementations of the store interfaces.
package memory

import (
	"context"
	"sort"
	"sync"

	"capsule-go/internal/domain"
)

// ArchiveRepository is an in-memory implementation of store.ArchiveRepository.
type ArchiveRepository struct {
	mu sync.RWMutex

	// records holds every record in insertion order
	records []*domain.Record

	// byID provides fast lookup by record ID
	byID map[string]*domain.Record
}

// NewArchiveRepository creates an empty in-memory archive.
func NewArchiveRepository() *ArchiveRepository {
	return &ArchiveRepository{
		byID: make(map[string]*domain.Record),
	}
}

// Save stores a copy of record.
func (r *ArchiveRepository) Save(ctx context.Context, record *domain.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	recordCopy := *record
	r.records = append(r.records, &recordCopy)
	r.byID[record.ID] = &recordCopy
	return nil
}

// GetByID retrieves a record by ID.
func (r *ArchiveRepository) GetByID(ctx context.Context, id string) (*domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	recordCopy := *record
	return &recordCopy, nil
}

// List returns records matching filter, newest first.
func (r *ArchiveRepository) List(ctx context.Context, filter domain.RecordFilter) ([]*domain.Record, error) {
	r.mu.RLock()
	var matched []*domain.Record
	for _, record := range r.records {
		if filter.Matches(record) {
			recordCopy := *record
			matched = append(matched, &recordCopy)
		}
	}
	r.mu.RUnlock()

	// Stable keeps insertion order for equal timestamps, reversed below.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ReceivedAt.Before(matched[j].ReceivedAt)
	})
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	if limit := filter.EffectiveLimit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Close is a no-op for the in-memory archive.
func (r *ArchiveRepository) Close() error {
	return nil
}
