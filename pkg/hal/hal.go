// Package hal is the hardware abstraction the control tasks talk to.
//
// The interfaces are deliberately small: tasks only ever set an output level,
// read an input level or wait on a clock. Backends live in sub-packages
// (sim, serialbridge, periph) and are chosen at startup.
package hal

import (
	"context"
	"time"
)

// Level is a digital pin level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// OutputPin drives a single digital output.
type OutputPin interface {
	Set(Level) error
	Name() string
}

// InputPin reads a single digital input.
type InputPin interface {
	Get() (Level, error)
	Name() string
}

// PulseReader is implemented by inputs whose backend can time a high pulse
// itself (for example a microcontroller doing pulseIn). The sensor prefers it
// over polling when available.
type PulseReader interface {
	// ReadPulse waits for a rising edge and returns how long the pin stayed
	// high. Both waits are bounded by timeout.
	ReadPulse(ctx context.Context, timeout time.Duration) (time.Duration, error)
}

// EchoTimer is implemented by inputs whose backend can fire a trigger pulse
// and time the echo that follows in one operation, so bus latency cannot
// fall between the two. The sensor prefers it over PulseReader.
type EchoTimer interface {
	// TimeEcho raises trigger for pulse, then returns the width of the next
	// high pulse on the receiver. Both edge waits are bounded by timeout.
	TimeEcho(ctx context.Context, trigger OutputPin, pulse, timeout time.Duration) (time.Duration, error)
}

// Board hands out pins by number.
type Board interface {
	Output(pin int) (OutputPin, error)
	Input(pin int) (InputPin, error)
	Close() error
}

// Clock is the time source for the sensing and actuation tasks.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}
