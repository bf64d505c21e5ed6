// Package safety owns the rover's safety flag and the monitor task that
// keeps it current.
//
// The flag says whether forward motion is permitted. It is written only by
// the Monitor and read by the actuator, always under the flag's lock. Every
// acquisition is bounded by a timeout and callers must have a fallback for
// ErrLockTimeout.
package safety

import (
	"sync"
	"time"
)

// Flag is a mutex-guarded boolean with timed acquisition.
//
// The lock is a one-slot channel: sending claims it, receiving releases it.
// This gives the same happens-before edges as sync.Mutex while allowing a
// bounded wait.
type Flag struct {
	sem  chan struct{}
	safe bool
}

// NewFlag returns a flag holding initial. The rover starts safe.
func NewFlag(initial bool) *Flag {
	return &Flag{
		sem:  make(chan struct{}, 1),
		safe: initial,
	}
}

// Acquire takes exclusive access, waiting at most timeout. A timeout <= 0
// only succeeds if the lock is free right now.
func (f *Flag) Acquire(timeout time.Duration) (*Guard, error) {
	select {
	case f.sem <- struct{}{}:
		return &Guard{f: f}, nil
	default:
	}
	if timeout <= 0 {
		return nil, ErrLockTimeout
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f.sem <- struct{}{}:
		return &Guard{f: f}, nil
	case <-t.C:
		return nil, ErrLockTimeout
	}
}

// Guard is held exclusive access to a Flag. Release it exactly once; extra
// Release calls are ignored.
type Guard struct {
	f    *Flag
	once sync.Once
}

// Safe reports the flag value.
func (g *Guard) Safe() bool {
	return g.f.safe
}

// Set stores v.
func (g *Guard) Set(v bool) {
	g.f.safe = v
}

// Release gives up exclusive access.
func (g *Guard) Release() {
	g.once.Do(func() {
		<-g.f.sem
	})
}
