// Package periph drives the rover's pins directly from a Linux single board
// computer using periph.io. Pins are looked up by their "GPIO<n>" name.
package periph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/teslashibe/go-rover/pkg/hal"
)

// Lookup resolves a pin name. gpioreg.ByName is the production lookup.
type Lookup func(name string) gpio.PinIO

// Board hands out host GPIO pins. It implements hal.Board.
type Board struct {
	lookup Lookup

	mu      sync.Mutex
	claimed map[int]gpio.PinIO
	outputs []gpio.PinIO
	closed  bool
}

var _ hal.Board = (*Board)(nil)

// Open initializes the host drivers and returns a board on the registry.
func Open() (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph: host init: %w", err)
	}
	return NewBoard(gpioreg.ByName), nil
}

// NewBoard returns a board resolving pins through lookup.
func NewBoard(lookup Lookup) *Board {
	return &Board{lookup: lookup, claimed: make(map[int]gpio.PinIO)}
}

func pinName(num int) string {
	return fmt.Sprintf("GPIO%d", num)
}

func (b *Board) claim(num int) (gpio.PinIO, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name := pinName(num)
	if b.closed || num < 0 {
		return nil, hal.WrapPinError(name, "claim", hal.ErrPinUnavailable)
	}
	if _, ok := b.claimed[num]; ok {
		return nil, hal.WrapPinError(name, "claim", hal.ErrPinInUse)
	}
	p := b.lookup(name)
	if p == nil {
		return nil, hal.WrapPinError(name, "claim", hal.ErrPinUnavailable)
	}
	b.claimed[num] = p
	return p, nil
}

func (b *Board) release(num int) {
	b.mu.Lock()
	delete(b.claimed, num)
	b.mu.Unlock()
}

// Output configures num as an output driven low.
func (b *Board) Output(num int) (hal.OutputPin, error) {
	p, err := b.claim(num)
	if err != nil {
		return nil, err
	}
	if err := p.Out(gpio.Low); err != nil {
		b.release(num)
		return nil, hal.WrapPinError(p.Name(), "out", err)
	}
	b.mu.Lock()
	b.outputs = append(b.outputs, p)
	b.mu.Unlock()
	return &Pin{p: p}, nil
}

// Input configures num as a pulled-down input with edge detection, so the
// returned pin can also time pulses.
func (b *Board) Input(num int) (hal.InputPin, error) {
	p, err := b.claim(num)
	if err != nil {
		return nil, err
	}
	if err := p.In(gpio.PullDown, gpio.BothEdges); err != nil {
		b.release(num)
		return nil, hal.WrapPinError(p.Name(), "in", err)
	}
	return &Pin{p: p}, nil
}

// Close drives every output low and halts every claimed pin.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var first error
	for _, p := range b.outputs {
		if err := p.Out(gpio.Low); err != nil && first == nil {
			first = hal.WrapPinError(p.Name(), "out", err)
		}
	}
	for num, p := range b.claimed {
		if err := p.Halt(); err != nil && first == nil {
			first = hal.WrapPinError(p.Name(), "halt", err)
		}
		delete(b.claimed, num)
	}
	return first
}

// Pin adapts a periph pin to the hal interfaces.
type Pin struct {
	p gpio.PinIO
}

var (
	_ hal.OutputPin   = (*Pin)(nil)
	_ hal.InputPin    = (*Pin)(nil)
	_ hal.PulseReader = (*Pin)(nil)
)

// Name returns the host pin name.
func (p *Pin) Name() string {
	return p.p.Name()
}

// Set drives the pin.
func (p *Pin) Set(l hal.Level) error {
	return hal.WrapPinError(p.Name(), "set", p.p.Out(gpio.Level(l)))
}

// Get reads the pin.
func (p *Pin) Get() (hal.Level, error) {
	return hal.Level(p.p.Read()), nil
}

// ReadPulse waits for a rising then a falling edge, each bounded by
// timeout, and returns the time between them.
func (p *Pin) ReadPulse(ctx context.Context, timeout time.Duration) (time.Duration, error) {
	rise, err := p.edge(ctx, gpio.High, timeout)
	if err != nil {
		return 0, err
	}
	fall, err := p.edge(ctx, gpio.Low, timeout)
	if err != nil {
		return 0, err
	}
	return fall.Sub(rise), nil
}

func (p *Pin) edge(ctx context.Context, want gpio.Level, timeout time.Duration) (time.Time, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		left := time.Until(deadline)
		if left <= 0 || !p.p.WaitForEdge(left) {
			return time.Time{}, hal.WrapPinError(p.Name(), "pulse", hal.ErrNoPulse)
		}
		at := time.Now()
		if p.p.Read() == want {
			return at, nil
		}
	}
}
