package turnout

import "errors"

// ErrInvalidArgument is the class of errors for bad caller input.
var ErrInvalidArgument = errors.New("turnout: invalid argument")

// Domain errors for the turnout package.
var (
	// ErrInvalidState is returned when a state other than closed or thrown is
	// commanded.
	ErrInvalidState = wrapInvalid("turnout: state must be closed or thrown")

	// ErrInvalidFeedbackMode is returned for unknown feedback mode names.
	ErrInvalidFeedbackMode = wrapInvalid("turnout: unknown feedback mode")

	// ErrInvalidAddress is returned for addresses outside the bus range.
	ErrInvalidAddress = wrapInvalid("turnout: invalid address")

	// ErrDisposed is returned by operations on a disposed turnout.
	ErrDisposed = errors.New("turnout: disposed")

	// ErrNotFound is returned when no turnout has the requested address.
	ErrNotFound = errors.New("turnout: not found")

	// ErrNoTransport is returned when a turnout is created without a transport.
	ErrNoTransport = errors.New("turnout: transport is required")
)

// invalidError carries its own message and matches ErrInvalidArgument.
type invalidError struct{ msg string }

func (e *invalidError) Error() string { return e.msg }

func (e *invalidError) Is(target error) bool { return target == ErrInvalidArgument }

func wrapInvalid(msg string) error { return &invalidError{msg: msg} }
