// Package command defines the rover's motion commands, the substring
// extractor that turns raw request bytes into a command, and the bounded
// FIFO queue that hands commands to the actuator.
package command

import (
	"bytes"
	"fmt"
	"strings"
)

// Command is one discrete vehicle action.
type Command uint8

const (
	// None is the zero value; it never enters the queue.
	None Command = iota
	Forward
	Reverse
	TurnLeft
	TurnRight
)

// All lists the valid commands.
var All = []Command{Forward, Reverse, TurnLeft, TurnRight}

func (c Command) String() string {
	switch c {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	case TurnLeft:
		return "left"
	case TurnRight:
		return "right"
	default:
		return "none"
	}
}

// Valid reports whether c is one of the four motion commands.
func (c Command) Valid() bool {
	return c >= Forward && c <= TurnRight
}

// Direction is the word the control page uses for c ("up", "down", ...).
func (c Command) Direction() string {
	for _, t := range tokens {
		if t.cmd == c {
			return t.dir
		}
	}
	return ""
}

// token maps a query marker to a command. Order is match precedence.
type token struct {
	marker []byte
	dir    string
	cmd    Command
}

var tokens = []token{
	{[]byte("/?up"), "up", Forward},
	{[]byte("/?down"), "down", Reverse},
	{[]byte("/?right"), "right", TurnRight},
	{[]byte("/?left"), "left", TurnLeft},
}

// Parse scans raw request bytes for a direction marker and returns the
// command for the first marker in precedence order (up, down, right, left).
//
// This is cheap classification, not protocol parsing: the marker may appear
// anywhere in the bytes and nothing else about the request is checked.
func Parse(raw []byte) (Command, bool) {
	for _, t := range tokens {
		if bytes.Contains(raw, t.marker) {
			return t.cmd, true
		}
	}
	return None, false
}

// ParseDirection accepts a direction word or command name, as typed on a
// command line: up/forward, down/reverse/back, left, right.
func ParseDirection(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "forward", "fwd":
		return Forward, nil
	case "down", "reverse", "back":
		return Reverse, nil
	case "left":
		return TurnLeft, nil
	case "right":
		return TurnRight, nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}
