package subscription

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation is returned when an operation is invalid in the current state.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrAckTimeout is reported when a subscribe or unsubscribe reply never arrives.
	ErrAckTimeout = errors.New("ack timeout")
	// ErrNotStarted is returned by operations that need a running controller.
	ErrNotStarted = errors.New("controller not started")
)

// TransportError wraps a socket level failure that ended the session.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("transport failed after %d reconnect attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
