package hal

import (
	"context"
	"time"
)

// spinThreshold is the longest sleep done by spinning instead of a timer.
// Trigger pulses are a few microseconds, far below timer resolution.
const spinThreshold = 100 * time.Microsecond

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Sleep waits for d. Very short waits busy-spin so microsecond pulses keep
// their width.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	if d <= spinThreshold {
		deadline := time.Now().Add(d)
		for time.Now().Before(deadline) {
		}
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
