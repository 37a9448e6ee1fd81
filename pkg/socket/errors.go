package socket

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrTimedOut is returned when a bounded wait, such as the connect
// handshake, exceeds its deadline.
var ErrTimedOut = errors.New("operation timed out")

// SystemError is a failed OS call. It unwraps to the errno, so callers can
// use errors.Is(err, unix.ECONNREFUSED).
type SystemError struct {
	Op    string
	Errno unix.Errno
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Errno.Error())
}

func (e *SystemError) Unwrap() error {
	return e.Errno
}

// Code returns the platform error number.
func (e *SystemError) Code() int {
	return int(e.Errno)
}

func newSystemError(op string, err error) error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return &SystemError{Op: op, Errno: errno}
	}
	return fmt.Errorf("%s: %w", op, err)
}
