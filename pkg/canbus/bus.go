package canbus

import (
	"context"
	"errors"
)

// Bus represents a CAN bus connection which can send and receive CAN frames.
// Implementations should be safe for concurrent use by multiple goroutines.
type Bus interface {
	// Send transmits a frame. It may block until the frame is queued or sent.
	// Context cancellation should abort the operation and return the context
	// error; callers in pkg/engine treat Send as "try-send, may fail" (spec
	// §5): they pass their own context through unchanged and keep the
	// command latched on error so it is retried on a later tick.
	Send(ctx context.Context, frame Frame) error

	// Receive retrieves the next available frame. It blocks until a frame is
	// available or the context is cancelled.
	Receive(ctx context.Context) (Frame, error)

	// Close releases resources. Further Send/Receive return an error.
	Close() error
}

// ErrClosed indicates the bus or endpoint has been closed.
var ErrClosed = errors.New("canbus: closed")
