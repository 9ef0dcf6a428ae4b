// Package queue defines the external message queue the relay moves channel
// traffic to and from. Implementations exist for Kafka and for an in-process
// buffer used in tests and single-node setups.
package queue

import (
	"context"
)

// HeaderChannel names the capsule channel a queued message belongs to.
const HeaderChannel = "channel"

// Message is a record on the external queue.
type Message struct {
	// Key is the partition key; the relay uses the channel name.
	Key []byte

	// Value is the serialized envelope.
	Value []byte

	Headers map[string]string
}

// Channel returns the channel header, or "" when absent.
func (m *Message) Channel() string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[HeaderChannel]
}

// Producer writes messages to a queue.
// Implementations must be safe for concurrent use.
type Producer interface {
	Publish(ctx context.Context, msg *Message) error
	Close() error
}

// MessageHandler processes one consumed message. Returning an error leaves
// the message uncommitted where the implementation supports it.
type MessageHandler func(ctx context.Context, msg *Message) error

// Consumer reads messages from a queue.
type Consumer interface {
	// Start blocks, calling handler for each message, until ctx is canceled
	// or an unrecoverable error occurs.
	Start(ctx context.Context, handler MessageHandler) error
	Close() error
}
