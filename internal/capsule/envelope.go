package capsule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MalformedPayload is dispatched in place of a list element that could not be
// decoded as an envelope.
const MalformedPayload = "error parsing json!"

// envelope is the single-field wire wrapper stored as each list element.
type envelope struct {
	Data any `json:"data"`
}

// EncodeEnvelope wraps payload as {"data": payload} and serializes it.
func EncodeEnvelope(payload any) ([]byte, error) {
	data, err := json.Marshal(envelope{Data: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope returns the data field of a serialized envelope.
// An object without a data field decodes to nil. Numbers decode as
// json.Number so integers keep their full precision.
func DecodeEnvelope(raw []byte) (any, error) {
	var env envelope
	if err := decodeStrict(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return env.Data, nil
}

// DecodePayload parses one JSON value the same way DecodeEnvelope parses the
// data field: numbers become json.Number and trailing input is rejected.
func DecodePayload(raw []byte) (any, error) {
	var payload any
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}
