package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"capsule-go/internal/domain"
)

// ArchiveRepository implements store.ArchiveRepository using PostgreSQL.
type ArchiveRepository struct {
	db *DB
}

// NewArchiveRepository creates a PostgreSQL-backed archive.
func NewArchiveRepository(db *DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// Save inserts a record.
func (r *ArchiveRepository) Save(ctx context.Context, record *domain.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO message_archive (id, channel, payload, received_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.pool.Exec(ctx, query,
		record.ID,
		record.Channel,
		nullablePayload(record.Payload),
		record.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	return nil
}

// GetByID retrieves a record by ID.
func (r *ArchiveRepository) GetByID(ctx context.Context, id string) (*domain.Record, error) {
	query := `
		SELECT id, channel, payload, received_at
		FROM message_archive
		WHERE id = $1
	`

	record, err := scanRecord(r.db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return record, nil
}

// List returns records matching filter, newest first.
func (r *ArchiveRepository) List(ctx context.Context, filter domain.RecordFilter) ([]*domain.Record, error) {
	query, args := buildListQuery(filter)

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*domain.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return records, nil
}

// Close is a no-op; the pool is owned by DB.
func (r *ArchiveRepository) Close() error {
	return nil
}

// buildListQuery renders the filter as a parameterized query.
func buildListQuery(filter domain.RecordFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)

	if filter.Channel != "" {
		args = append(args, filter.Channel)
		conditions = append(conditions, fmt.Sprintf("channel = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("received_at >= $%d", len(args)))
	}

	query := "SELECT id, channel, payload, received_at FROM message_archive"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, filter.EffectiveLimit())
	query += fmt.Sprintf(" ORDER BY received_at DESC LIMIT $%d", len(args))

	return query, args
}

func scanRecord(row pgx.Row) (*domain.Record, error) {
	var (
		record     domain.Record
		payload    []byte
		receivedAt time.Time
	)
	if err := row.Scan(&record.ID, &record.Channel, &payload, &receivedAt); err != nil {
		return nil, err
	}
	record.Payload = payload
	record.ReceivedAt = receivedAt
	return &record, nil
}

// nullablePayload maps an empty payload to SQL NULL.
func nullablePayload(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}
