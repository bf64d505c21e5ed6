package hal

import (
	"errors"
	"fmt"
)

var (
	// ErrPinUnavailable is returned when a backend has no pin with that number.
	ErrPinUnavailable = errors.New("hal: pin unavailable")

	// ErrPinInUse is returned when a pin is claimed twice.
	ErrPinInUse = errors.New("hal: pin already claimed")

	// ErrNoPulse is returned by a PulseReader when no complete pulse was
	// seen before the timeout.
	ErrNoPulse = errors.New("hal: no pulse")
)

// PinError wraps a backend failure with the pin and operation involved.
type PinError struct {
	Pin string
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PinError) Error() string {
	return fmt.Sprintf("hal [%s]: %s: %v", e.Pin, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *PinError) Unwrap() error {
	return e.Err
}

// WrapPinError wraps err with pin context. Returns nil for a nil err.
func WrapPinError(pin, op string, err error) error {
	if err == nil {
		return nil
	}
	return &PinError{Pin: pin, Op: op, Err: err}
}
