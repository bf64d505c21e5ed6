package hal

import (
	"errors"
	"strings"
)

// Joiner is implemented by outputs that can be switched together with other
// outputs of the same backend in one operation.
type Joiner interface {
	// Join returns an output driving the receiver and others at once. It
	// reports false when any of others belongs to a different backend.
	Join(others ...OutputPin) (OutputPin, bool)
}

// Join returns one output that drives all pins. When the first pin's backend
// can switch them together it does; otherwise the pins are set in order and
// every one is attempted even if an earlier one fails.
func Join(pins ...OutputPin) OutputPin {
	if len(pins) == 0 {
		return joined(nil)
	}
	if j, ok := pins[0].(Joiner); ok {
		if out, ok := j.Join(pins[1:]...); ok {
			return out
		}
	}
	return joined(pins)
}

type joined []OutputPin

func (j joined) Set(l Level) error {
	var errs []error
	for _, p := range j {
		if err := p.Set(l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (j joined) Name() string {
	names := make([]string, len(j))
	for i, p := range j {
		names[i] = p.Name()
	}
	return strings.Join(names, "+")
}
