package kafka

import (
	"testing"

	"capsule-go/internal/queue"
)

func TestMessageConversion(t *testing.T) {
	msg := &queue.Message{
		Key:     []byte("events"),
		Value:   []byte(`{"data":1}`),
		Headers: map[string]string{queue.HeaderChannel: "events"},
	}

	km := toKafka(msg)
	if string(km.Key) != "events" || len(km.Headers) != 1 {
		t.Fatalf("toKafka = %+v", km)
	}

	back := fromKafka(km)
	if back.Channel() != "events" {
		t.Errorf("Channel() = %q, want events", back.Channel())
	}
	if string(back.Value) != `{"data":1}` {
		t.Errorf("Value = %s", back.Value)
	}
}

func TestToKafka_NoHeaders(t *testing.T) {
	km := toKafka(&queue.Message{Value: []byte("x")})
	if km.Headers != nil {
		t.Errorf("Headers = %v, want nil", km.Headers)
	}
}
