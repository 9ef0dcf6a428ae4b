package capsule

import (
	"errors"
	"reflect"
	"testing"
)

func TestNormalizeChannels(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []string
		wantErr error
	}{
		{name: "single", in: []string{"events"}, want: []string{"events"}},
		{name: "sorted", in: []string{"b", "a", "c"}, want: []string{"a", "b", "c"}},
		{name: "duplicates", in: []string{"b", "a", "b"}, want: []string{"a", "b"}},
		{name: "empty list", in: nil, wantErr: ErrNoChannels},
		{name: "blank name", in: []string{"a", " "}, wantErr: ErrEmptyChannel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeChannels(tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("normalizeChannels() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("normalizeChannels() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListenerKey_OrderIndependent(t *testing.T) {
	ep := Endpoint{URL: DefaultURL, DB: 9}

	a, _ := normalizeChannels([]string{"a", "b"})
	b, _ := normalizeChannels([]string{"b", "a", "a"})

	if listenerKey(a, ep) != listenerKey(b, ep) {
		t.Errorf("keys differ: %q vs %q", listenerKey(a, ep), listenerKey(b, ep))
	}
}

func TestListenerKey_Distinct(t *testing.T) {
	ep := Endpoint{URL: DefaultURL, DB: 9}

	joined := listenerKey([]string{"a,b"}, ep)
	split := listenerKey([]string{"a", "b"}, ep)
	if joined == split {
		t.Errorf("channel names containing the separator collide: %q", joined)
	}

	otherDB := listenerKey([]string{"a"}, Endpoint{URL: DefaultURL, DB: 8})
	if otherDB == listenerKey([]string{"a"}, ep) {
		t.Error("keys on different databases must differ")
	}
}

func TestChannelKey(t *testing.T) {
	ep := Endpoint{URL: DefaultURL, DB: 7}
	if channelKey("events", ep) == channelKey("events", Endpoint{URL: DefaultURL, DB: 8}) {
		t.Error("channel keys on different databases must differ")
	}
	if channelKey("events", ep) != channelKey("events", ep) {
		t.Error("channel key must be deterministic")
	}
}
