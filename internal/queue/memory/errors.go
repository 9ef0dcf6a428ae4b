package memory

import "errors"

// ErrQueueClosed is returned when publishing to a closed queue.
var ErrQueueClosed = errors.New("memory queue is closed")
