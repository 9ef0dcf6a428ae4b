// Package domain contains the entities stored by capsule's optional sinks.
package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrRecordNotFound is returned when an archived record cannot be found.
var ErrRecordNotFound = errors.New("record not found")

// Validation errors for records.
var (
	ErrEmptyRecordID      = errors.New("record id is required")
	ErrEmptyRecordChannel = errors.New("record channel is required")
)

// Record is one delivered message kept by the archive.
type Record struct {
	// ID is a UUID assigned when the record is created.
	ID string `json:"id"`

	// Channel is the list the message was popped from.
	Channel string `json:"channel"`

	// Payload is the envelope's data field, re-encoded as JSON.
	Payload json.RawMessage `json:"payload"`

	ReceivedAt time.Time `json:"received_at"`
}

// Validate checks that the record can be stored.
func (r *Record) Validate() error {
	if r.ID == "" {
		return ErrEmptyRecordID
	}
	if r.Channel == "" {
		return ErrEmptyRecordChannel
	}
	return nil
}

// RecordFilter selects archived records. Records are returned newest first.
type RecordFilter struct {
	Channel string
	Since   time.Time
	Limit   int
}

// DefaultRecordLimit caps List results when no limit is given.
const DefaultRecordLimit = 100

// EffectiveLimit returns the limit to apply.
func (f RecordFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultRecordLimit
	}
	return f.Limit
}

// Matches reports whether r satisfies the channel and time criteria.
func (f RecordFilter) Matches(r *Record) bool {
	if f.Channel != "" && r.Channel != f.Channel {
		return false
	}
	if !f.Since.IsZero() && r.ReceivedAt.Before(f.Since) {
		return false
	}
	return true
}
