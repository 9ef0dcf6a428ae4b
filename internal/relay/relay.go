// Package relay bridges capsule channels and an external message queue.
// A Forwarder mirrors messages delivered on capsule channels to a queue;
// an Ingester publishes queued messages onto a capsule channel.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"capsule-go/internal/capsule"
	"capsule-go/internal/metrics"
	"capsule-go/internal/queue"
)

// Subscriber is the subscribe side of a capsule.
type Subscriber interface {
	Subscribe(channels []string, handler capsule.Handler, options ...capsule.CallOption) (*capsule.Subscription, error)
	Unsubscribe(sub *capsule.Subscription) bool
}

// Publisher is the publish side of a capsule.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any, options ...capsule.CallOption) error
}

// Forwarder copies every message delivered on its channels to a producer.
type Forwarder struct {
	subscriber Subscriber
	producer   queue.Producer
	logger     *slog.Logger

	mu  sync.Mutex
	sub *capsule.Subscription
}

// NewForwarder creates a forwarder. Call Start to begin forwarding.
func NewForwarder(subscriber Subscriber, producer queue.Producer, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		subscriber: subscriber,
		producer:   producer,
		logger:     logger,
	}
}

// Start subscribes to channels. Calling Start again replaces the subscription.
func (f *Forwarder) Start(channels []string) error {
	sub, err := f.subscriber.Subscribe(channels, f.Handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe forwarder: %w", err)
	}

	f.mu.Lock()
	prev := f.sub
	f.sub = sub
	f.mu.Unlock()

	if prev != nil {
		f.subscriber.Unsubscribe(prev)
	}
	f.logger.Info("relay forwarder started", "channels", channels)
	return nil
}

// Stop removes the forwarder's subscription.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	f.mu.Unlock()

	if sub != nil {
		f.subscriber.Unsubscribe(sub)
	}
}

// Handle re-wraps msg in an envelope and writes it to the producer, keyed
// by channel. It is a capsule.Handler.
func (f *Forwarder) Handle(ctx context.Context, msg *capsule.Message) error {
	value, err := capsule.EncodeEnvelope(msg.Data)
	if err != nil {
		metrics.RelayForwardedTotal.WithLabelValues("forward", "failure").Inc()
		return err
	}

	out := &queue.Message{
		Key:     []byte(msg.Channel),
		Value:   value,
		Headers: map[string]string{queue.HeaderChannel: msg.Channel},
	}
	if err := f.producer.Publish(ctx, out); err != nil {
		metrics.RelayForwardedTotal.WithLabelValues("forward", "failure").Inc()
		return fmt.Errorf("failed to forward message from %q: %w", msg.Channel, err)
	}

	metrics.RelayForwardedTotal.WithLabelValues("forward", "success").Inc()
	return nil
}

// Ingester consumes a queue and publishes each message onto a channel.
type Ingester struct {
	consumer       queue.Consumer
	publisher      Publisher
	defaultChannel string
	logger         *slog.Logger
}

// NewIngester creates an ingester. Messages without a channel header are
// published on defaultChannel.
func NewIngester(consumer queue.Consumer, publisher Publisher, defaultChannel string, logger *slog.Logger) *Ingester {
	return &Ingester{
		consumer:       consumer,
		publisher:      publisher,
		defaultChannel: defaultChannel,
		logger:         logger,
	}
}

// Run blocks until ctx is canceled or the consumer fails.
func (i *Ingester) Run(ctx context.Context) error {
	i.logger.Info("relay ingester started", "default_channel", i.defaultChannel)
	return i.consumer.Start(ctx, i.Handle)
}

// Handle publishes one queued message. It is a queue.MessageHandler.
func (i *Ingester) Handle(ctx context.Context, msg *queue.Message) error {
	channel := msg.Channel()
	if channel == "" {
		channel = i.defaultChannel
	}
	if channel == "" {
		metrics.RelayForwardedTotal.WithLabelValues("ingest", "dropped").Inc()
		i.logger.Warn("dropping queued message without channel", "key", string(msg.Key))
		// Nothing can route it; committing avoids redelivering forever.
		return nil
	}

	if err := i.publisher.Publish(ctx, channel, unwrap(msg.Value)); err != nil {
		metrics.RelayForwardedTotal.WithLabelValues("ingest", "failure").Inc()
		return fmt.Errorf("failed to ingest message into %q: %w", channel, err)
	}

	metrics.RelayForwardedTotal.WithLabelValues("ingest", "success").Inc()
	return nil
}

// unwrap returns the payload carried by value: the data field of an
// envelope, otherwise the decoded JSON, otherwise the raw text.
func unwrap(value []byte) any {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(value, &probe); err == nil {
		if _, ok := probe["data"]; ok && len(probe) == 1 {
			data, _ := capsule.DecodeEnvelope(value)
			return data
		}
	}

	if payload, err := capsule.DecodePayload(value); err == nil {
		return payload
	}
	return string(value)
}
