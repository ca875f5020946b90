package call

import (
	"errors"
	"fmt"
)

var (
	ErrBusy             = errors.New("already in a call")
	ErrCallAborted      = errors.New("call aborted")
	ErrMediaUnavailable = errors.New("no microphone available")
	ErrNoIncomingCall   = errors.New("no incoming call")
	ErrInvalidTarget    = errors.New("invalid call target")
	ErrNoConnection     = errors.New("no call media to control")
	ErrNoVideo          = errors.New("call has no video")
)

// Error records the call operation that failed.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
