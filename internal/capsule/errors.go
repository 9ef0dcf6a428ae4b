package capsule

import (
	"errors"
	"fmt"
)

// Request-level errors are returned to the caller. Connectivity and data
// errors inside a listener are recovered locally and never surface here.
var (
	// ErrInvalidEndpoint is returned when a store URL cannot be parsed.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrUnreachable is returned when a connection or database select fails.
	ErrUnreachable = errors.New("endpoint unreachable")

	// ErrPublishFailed is returned when an enqueue command fails.
	ErrPublishFailed = errors.New("publish failed")

	// ErrMalformedMessage is returned when a list element is not an envelope.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrNoChannels is returned when a subscription names no channel.
	ErrNoChannels = errors.New("at least one channel name is required")

	// ErrEmptyChannel is returned when a channel name is blank.
	ErrEmptyChannel = errors.New("channel name cannot be empty")

	// ErrNilHandler is returned when subscribing without a handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrClosed is returned by a capsule that has been closed.
	ErrClosed = errors.New("capsule is closed")
)

// HandlerFault describes a handler invocation that returned an error or
// panicked. Faults are logged and counted; dispatch continues.
type HandlerFault struct {
	Channel string
	Index   int
	Err     error
	Panic   any
}

func (f *HandlerFault) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("handler %d on %q panicked: %v", f.Index, f.Channel, f.Panic)
	}
	return fmt.Sprintf("handler %d on %q failed: %v", f.Index, f.Channel, f.Err)
}

func (f *HandlerFault) Unwrap() error {
	return f.Err
}
