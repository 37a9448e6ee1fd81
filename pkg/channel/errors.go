// Package channel holds what the stream and datagram channels share: their
// error values.
package channel

import (
	"errors"
	"fmt"
)

// ErrIncorrectState matches every IncorrectStateError.
var ErrIncorrectState = errors.New("incorrect state")

// ErrNotResumed is returned when a datagram channel is used before Resume.
var ErrNotResumed = errors.New("channel not resumed")

// ErrFamilyMismatch is returned when a destination's address family differs
// from the channel's.
var ErrFamilyMismatch = errors.New("address family mismatch")

// ErrCancelled is reported to a pending connect when Disconnect stops its
// retries.
var ErrCancelled = errors.New("cancelled")

// ErrRetrying is returned when a retrying connect is already running.
var ErrRetrying = errors.New("connect retries already running")

// IncorrectStateError reports an operation issued in a state that does not
// allow it. No state change happened.
type IncorrectStateError struct {
	Op    string
	State fmt.Stringer
}

func (e *IncorrectStateError) Error() string {
	return fmt.Sprintf("%s: %s while %s", e.Op, ErrIncorrectState, e.State)
}

// Is makes errors.Is(err, ErrIncorrectState) hold.
func (e *IncorrectStateError) Is(target error) bool {
	return target == ErrIncorrectState
}

// NewIncorrectState builds an IncorrectStateError.
func NewIncorrectState(op string, state fmt.Stringer) error {
	return &IncorrectStateError{Op: op, State: state}
}
