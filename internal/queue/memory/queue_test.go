package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"capsule-go/internal/queue"
)

func TestQueue_PublishAndConsume(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := &queue.Message{
		Key:     []byte("events"),
		Value:   []byte(`{"data":"hello"}`),
		Headers: map[string]string{queue.HeaderChannel: "events"},
	}
	if err := q.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}

	received := make(chan *queue.Message, 1)
	go func() {
		_ = q.Start(ctx, func(_ context.Context, m *queue.Message) error {
			received <- m
			return nil
		})
	}()

	select {
	case got := <-received:
		if got.Channel() != "events" {
			t.Errorf("Channel() = %q, want events", got.Channel())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message was not consumed")
	}
}

func TestQueue_PublishBlocksUntilContextDone(t *testing.T) {
	q := NewQueue(1)
	_ = q.Publish(context.Background(), &queue.Message{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := q.Publish(ctx, &queue.Message{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Publish error = %v, want DeadlineExceeded", err)
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue(1)
	if err := q.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if err := q.Publish(context.Background(), &queue.Message{}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Publish error = %v, want ErrQueueClosed", err)
	}
	if err := q.Start(context.Background(), func(context.Context, *queue.Message) error { return nil }); err != nil {
		t.Errorf("Start on closed queue error = %v, want nil", err)
	}
}

func TestQueue_CloseUnblocksPublisher(t *testing.T) {
	q := NewQueue(1)
	_ = q.Publish(context.Background(), &queue.Message{})

	published := make(chan error, 1)
	go func() {
		published <- q.Publish(context.Background(), &queue.Message{})
	}()

	// Give the publisher time to block on the full buffer.
	time.Sleep(20 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- q.Close() }()

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a waiting publisher")
	}

	select {
	case err := <-published:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("Publish error = %v, want ErrQueueClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Publish did not return after Close")
	}
}

func TestQueue_Drain(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 3; i++ {
		_ = q.Publish(context.Background(), &queue.Message{Key: []byte{byte(i)}})
	}
	if got := len(q.Drain()); got != 3 {
		t.Errorf("Drain returned %d messages, want 3", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d after Drain, want 0", q.Len())
	}
}

func TestMessage_ChannelWithoutHeaders(t *testing.T) {
	if (&queue.Message{}).Channel() != "" {
		t.Error("Channel() should be empty without headers")
	}
}
