// Package archive records delivered messages into a store.ArchiveRepository
// so recent channel traffic can be inspected after it has been consumed.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"capsule-go/internal/capsule"
	"capsule-go/internal/domain"
	"capsule-go/internal/metrics"
	"capsule-go/internal/store"
)

// Recorder is a capsule handler that archives every message it receives.
type Recorder struct {
	repo      store.ArchiveRepository
	storeName string
	logger    *slog.Logger
	now       func() time.Time
}

// NewRecorder creates a recorder. storeName labels its metrics.
func NewRecorder(repo store.ArchiveRepository, storeName string, logger *slog.Logger) *Recorder {
	return &Recorder{
		repo:      repo,
		storeName: storeName,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle stores msg. It is a capsule.Handler.
func (r *Recorder) Handle(ctx context.Context, msg *capsule.Message) error {
	payload, err := json.Marshal(msg.Data)
	if err != nil {
		metrics.ArchiveOperationsTotal.WithLabelValues(r.storeName, "failure").Inc()
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = r.now()
	}

	record := &domain.Record{
		ID:         uuid.New().String(),
		Channel:    msg.Channel,
		Payload:    payload,
		ReceivedAt: receivedAt.UTC(),
	}

	if err := r.repo.Save(ctx, record); err != nil {
		metrics.ArchiveOperationsTotal.WithLabelValues(r.storeName, "failure").Inc()
		return fmt.Errorf("failed to archive message: %w", err)
	}

	metrics.ArchiveOperationsTotal.WithLabelValues(r.storeName, "success").Inc()
	r.logger.Debug("message archived", "channel", record.Channel, "id", record.ID)
	return nil
}

// Recent returns up to limit records for channel, newest first.
func (r *Recorder) Recent(ctx context.Context, channel string, limit int) ([]*domain.Record, error) {
	return r.repo.List(ctx, domain.RecordFilter{Channel: channel, Limit: limit})
}
