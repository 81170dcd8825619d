package can

import "errors"

// Bus is a CAN endpoint that can transmit frames and expose received
// frames as a channel. Implementations must be safe for concurrent use.
type Bus interface {
	// Send transmits a frame. It may block until the frame is queued.
	Send(Frame) error

	// Frames returns the receive channel. The channel is closed when the
	// bus is closed or its underlying transport fails.
	Frames() <-chan Frame

	Close() error
}

// ErrClosed indicates the bus or endpoint has been closed.
var ErrClosed = errors.New("can: bus closed")
