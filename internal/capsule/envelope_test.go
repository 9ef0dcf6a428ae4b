package capsule

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    any
	}{
		{name: "string", payload: "hello", want: "hello"},
		{name: "number", payload: 42, want: json.Number("42")},
		{name: "float", payload: 1.5, want: json.Number("1.5")},
		{name: "beyond float64 precision", payload: int64(9007199254740993), want: json.Number("9007199254740993")},
		{name: "nil", payload: nil, want: nil},
		{
			name:    "nested",
			payload: map[string]any{"user": "ada", "tags": []any{"a", "b"}},
			want:    map[string]any{"user": "ada", "tags": []any{"a", "b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := EncodeEnvelope(tt.payload)
			if err != nil {
				t.Fatalf("EncodeEnvelope() error = %v", err)
			}
			got, err := DecodeEnvelope(raw)
			if err != nil {
				t.Fatalf("DecodeEnvelope() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeEnvelope() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestEncodeEnvelope_WireFormat(t *testing.T) {
	raw, err := EncodeEnvelope("hello")
	if err != nil {
		t.Fatalf("EncodeEnvelope() error = %v", err)
	}
	if string(raw) != `{"data":"hello"}` {
		t.Errorf("EncodeEnvelope() = %s, want {\"data\":\"hello\"}", raw)
	}
}

func TestEncodeEnvelope_Unsupported(t *testing.T) {
	if _, err := EncodeEnvelope(make(chan int)); err == nil {
		t.Error("expected error for unsupported payload type")
	}
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	inputs := []string{
		"not json",
		`"bare string"`,
		`[1,2,3]`,
		`{"data":`,
		`{"data":1} trailing`,
		`{"data":1}{"data":2}`,
	}

	for _, in := range inputs {
		_, err := DecodeEnvelope([]byte(in))
		if !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("DecodeEnvelope(%q) error = %v, want ErrMalformedMessage", in, err)
		}
	}
}

func TestDecodeEnvelope_MissingData(t *testing.T) {
	got, err := DecodeEnvelope([]byte(`{"other":1}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	if got != nil {
		t.Errorf("DecodeEnvelope() = %v, want nil", got)
	}
}

func TestEnvelope_LargeIntegerSurvives(t *testing.T) {
	const big int64 = 9007199254740993

	raw, err := EncodeEnvelope(big)
	if err != nil {
		t.Fatalf("EncodeEnvelope() error = %v", err)
	}
	got, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	n, ok := got.(json.Number)
	if !ok {
		t.Fatalf("DecodeEnvelope() = %T, want json.Number", got)
	}
	if v, err := n.Int64(); err != nil || v != big {
		t.Errorf("Int64() = %d, %v, want %d", v, err, big)
	}
}

func TestDecodePayload(t *testing.T) {
	got, err := DecodePayload([]byte(`{"id":9007199254740993}`))
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	want := map[string]any{"id": json.Number("9007199254740993")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DecodePayload() = %#v, want %#v", got, want)
	}

	for _, in := range []string{"", "{nope", `1 2`} {
		if _, err := DecodePayload([]byte(in)); err == nil {
			t.Errorf("DecodePayload(%q) error = nil, want error", in)
		}
	}
}
