// Package memory provides an in-process implementation of the queue
// interfaces, backed by a buffered Go channel.
package memory

import (
	"context"
	"sync"

	"capsule-go/internal/queue"
)

// Queue implements both queue.Producer and queue.Consumer.
// It is safe for concurrent use.
type Queue struct {
	messages chan *queue.Message

	// done is closed by Close; the message channel itself is never closed.
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewQueue creates a queue that buffers up to bufferSize messages before
// Publish blocks.
func NewQueue(bufferSize int) *Queue {
	return &Queue{
		messages: make(chan *queue.Message, bufferSize),
		done:     make(chan struct{}),
	}
}

// Publish enqueues msg, blocking while the buffer is full until ctx ends or
// the queue is closed.
func (q *Queue) Publish(ctx context.Context, msg *queue.Message) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.messages <- msg:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start delivers messages to handler until ctx ends or the queue is closed.
// Handler errors are dropped; there is no redelivery.
func (q *Queue) Start(ctx context.Context, handler queue.MessageHandler) error {
	q.wg.Add(1)
	defer q.wg.Done()

	for {
		select {
		case <-q.done:
			return nil
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return nil
		case msg := <-q.messages:
			_ = handler(ctx, msg)
		}
	}
}

// Close stops accepting messages, unblocks waiting publishers and waits for
// running consumers to return. Buffered messages stay available to Drain.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
	return nil
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.messages)
}

// Drain removes and returns every buffered message without blocking.
func (q *Queue) Drain() []*queue.Message {
	var out []*queue.Message
	for {
		select {
		case msg := <-q.messages:
			out = append(out, msg)
		default:
			return out
		}
	}
}
