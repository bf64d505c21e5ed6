package sim

import (
	"sync"
	"time"

	"github.com/teslashibe/go-rover/pkg/hal"
)

// Board is an in-memory hal.Board. Pins are created on first use; a Ranger
// can be attached to serve the trigger and echo pins.
type Board struct {
	mu      sync.Mutex
	now     func() time.Time
	pins    map[int]*Pin
	claimed map[int]bool
	ranger  *Ranger
	echoNum int
	closed  bool
}

// NewBoard returns an empty board whose pins timestamp with clock.
func NewBoard(clock hal.Clock) *Board {
	return &Board{
		now:     timeSource(clock),
		pins:    make(map[int]*Pin),
		claimed: make(map[int]bool),
		echoNum: -1,
	}
}

// timeSource avoids advancing a stepping clock just to timestamp a pin.
func timeSource(clock hal.Clock) func() time.Time {
	if c, ok := clock.(*Clock); ok {
		return c.Peek
	}
	return clock.Now
}

// AttachRanger wires r to the given trigger and echo pins.
func (b *Board) AttachRanger(r *Ranger, trig, echo int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ranger = r
	b.echoNum = echo
	b.pins[trig] = r.Trigger()
}

// Pin returns the pin with the given number, creating it if needed.
// It does not claim the pin, so tests can inspect pins the rover owns.
func (b *Board) Pin(num int) *Pin {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pinLocked(num)
}

func (b *Board) pinLocked(num int) *Pin {
	p, ok := b.pins[num]
	if !ok {
		p = newPin(num, b.now)
		b.pins[num] = p
	}
	return p
}

func (b *Board) claim(num int) error {
	if b.closed {
		return hal.WrapPinError(newPin(num, b.now).Name(), "claim", hal.ErrPinUnavailable)
	}
	if num < 0 {
		return hal.ErrPinUnavailable
	}
	if b.claimed[num] {
		return hal.WrapPinError(b.pinLocked(num).Name(), "claim", hal.ErrPinInUse)
	}
	b.claimed[num] = true
	return nil
}

// Output claims pin num as an output.
func (b *Board) Output(num int) (hal.OutputPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.claim(num); err != nil {
		return nil, err
	}
	return b.pinLocked(num), nil
}

// Input claims pin num as an input. The attached ranger's echo is returned
// for its echo pin.
func (b *Board) Input(num int) (hal.InputPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.claim(num); err != nil {
		return nil, err
	}
	if b.ranger != nil && num == b.echoNum {
		return b.ranger.Echo(), nil
	}
	return b.pinLocked(num), nil
}

// Close releases every claim. Further claims fail.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.claimed = make(map[int]bool)
	return nil
}

// NewRangerBoard returns a board with a ranger at distanceCM already
// attached to the trigger and echo pins.
func NewRangerBoard(clock hal.Clock, trig, echo, distanceCM int) (*Board, *Ranger) {
	r := NewRanger(clock, trig, echo, distanceCM)
	b := NewBoard(clock)
	b.AttachRanger(r, trig, echo)
	return b, r
}
