package capsule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"capsule-go/internal/metrics"
)

// Channel is a named publish target bound to an endpoint. Each channel is
// one list key in the store.
type Channel struct {
	name     string
	endpoint Endpoint
	registry *Registry
	logger   *slog.Logger
}

func newChannel(name string, ep Endpoint, registry *Registry, logger *slog.Logger) *Channel {
	return &Channel{
		name:     name,
		endpoint: ep,
		registry: registry,
		logger:   logger,
	}
}

// Name returns the channel name, which is also the list key.
func (ch *Channel) Name() string {
	return ch.name
}

// Endpoint returns the endpoint the channel publishes to.
func (ch *Channel) Endpoint() Endpoint {
	return ch.endpoint
}

// Enqueue wraps payload in an envelope and pushes it onto the channel list.
// It makes exactly one attempt. Repeated calls enqueue repeated entries.
func (ch *Channel) Enqueue(ctx context.Context, payload any) error {
	data, err := EncodeEnvelope(payload)
	if err != nil {
		metrics.MessagesPublishedTotal.WithLabelValues(ch.name, "failure").Inc()
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	// Resolve on every call so the channel follows endpoint reconnects.
	client, err := ch.registry.Resolve(ctx, ch.endpoint)
	if err != nil {
		metrics.MessagesPublishedTotal.WithLabelValues(ch.name, "failure").Inc()
		return err
	}

	start := time.Now()
	if err := client.RPush(ctx, ch.name, data).Err(); err != nil {
		metrics.MessagesPublishedTotal.WithLabelValues(ch.name, "failure").Inc()

		// Server replies (e.g. WRONGTYPE) leave the connection usable.
		var replyErr redis.Error
		if !errors.As(err, &replyErr) {
			ch.registry.Invalidate(ch.endpoint, client)
		}

		ch.logger.Error("failed to publish message",
			"channel", ch.name,
			"endpoint", ch.endpoint.Redacted(),
			"db", ch.endpoint.DB,
			"error", err,
		)
		return fmt.Errorf("%w: rpush %q: %w", ErrPublishFailed, ch.name, err)
	}

	metrics.PublishLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesPublishedTotal.WithLabelValues(ch.name, "success").Inc()

	return nil
}
