// Package sim is an in-memory hardware backend. It runs the rover on a
// desktop and gives tests deterministic pins, time and sensor echoes.
package sim

import (
	"context"
	"sync"
	"time"
)

// Clock is a fake clock that advances by a fixed step on every Now call and
// by the full duration on every Sleep. Busy polling loops therefore always
// make progress without real time passing.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration

	slept time.Duration
}

// NewClock returns a clock starting at an arbitrary fixed instant.
func NewClock(step time.Duration) *Clock {
	return &Clock{
		now:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		step: step,
	}
}

// Now advances the clock by one step and returns the new time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// Peek returns the current time without advancing.
func (c *Clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock by d.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept += d
	c.mu.Unlock()
	return nil
}

// Slept returns the total time spent in Sleep.
func (c *Clock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}
