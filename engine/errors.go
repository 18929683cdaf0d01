package engine

import (
	"errors"
	"fmt"
)

// UnknownEventError is returned when subscribing to or emitting an event
// outside the declared EventType set.
type UnknownEventError struct {
	Type EventType
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("event bus: no such event %s", e.Type)
}

var (
	// ErrAckTimeout fails an action command whose acknowledgment did not arrive
	// within the configured ack timeout.
	ErrAckTimeout = errors.New("acknowledgment timeout")

	// ErrDispatcherClosed fails commands still pending when the dispatcher stops.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)
