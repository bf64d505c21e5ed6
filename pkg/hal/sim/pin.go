package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/teslashibe/go-rover/pkg/hal"
)

// Transition is one recorded level change on a pin.
type Transition struct {
	At    time.Time
	Level hal.Level
}

// Pin is an in-memory digital pin usable as both input and output.
// Every Set is recorded so tests can count and measure pulses.
type Pin struct {
	mu      sync.Mutex
	name    string
	now     func() time.Time
	level   hal.Level
	history []Transition
	err     error
	onSet   func(hal.Level)
}

func newPin(num int, now func() time.Time) *Pin {
	return &Pin{name: fmt.Sprintf("GPIO%d", num), now: now}
}

// Name returns the pin name, e.g. GPIO14.
func (p *Pin) Name() string {
	return p.name
}

// Set drives the pin. Setting the current level again is recorded but is not
// a transition.
func (p *Pin) Set(l hal.Level) error {
	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return hal.WrapPinError(p.name, "set", err)
	}
	if l != p.level || len(p.history) == 0 {
		p.history = append(p.history, Transition{At: p.now(), Level: l})
	}
	p.level = l
	hook := p.onSet
	p.mu.Unlock()

	if hook != nil {
		hook(l)
	}
	return nil
}

// Get reads the pin level.
func (p *Pin) Get() (hal.Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return hal.Low, hal.WrapPinError(p.name, "get", p.err)
	}
	return p.level, nil
}

// Level returns the current level without error injection.
func (p *Pin) Level() hal.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// FailWith makes every subsequent Set and Get fail with err. Pass nil to heal.
func (p *Pin) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// History returns a copy of the recorded transitions.
func (p *Pin) History() []Transition {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Transition, len(p.history))
	copy(out, p.history)
	return out
}

// Pulses counts low-to-high transitions.
func (p *Pin) Pulses() int {
	return len(p.PulseWidths()) + p.openPulse()
}

// PulseWidths returns the width of every completed high pulse.
func (p *Pin) PulseWidths() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	var widths []time.Duration
	var rise time.Time
	high := false
	for _, tr := range p.history {
		switch {
		case tr.Level == hal.High && !high:
			rise, high = tr.At, true
		case tr.Level == hal.Low && high:
			widths = append(widths, tr.At.Sub(rise))
			high = false
		}
	}
	return widths
}

// openPulse is 1 if the pin is currently high after a rising edge.
func (p *Pin) openPulse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.level == hal.High && len(p.history) > 0 {
		return 1
	}
	return 0
}

// Reset clears the recorded history, keeping the current level.
func (p *Pin) Reset() {
	p.mu.Lock()
	p.history = nil
	p.mu.Unlock()
}
