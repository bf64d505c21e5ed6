package command

import "errors"

var (
	// ErrUnknownCommand is returned for an unrecognised direction word.
	ErrUnknownCommand = errors.New("command: unknown direction")

	// ErrInvalidCommand is returned when None is sent to the queue.
	ErrInvalidCommand = errors.New("command: invalid command")
)
