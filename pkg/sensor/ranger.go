// Package sensor samples an ultrasonic distance sensor (HC-SR04 style).
//
// A reading is a short trigger pulse followed by timing the echo pulse; the
// echo width in microseconds divided by a fixed empirical divisor gives
// centimetres. Every edge wait is bounded so a dead sensor yields
// ErrNoReading instead of hanging the calling task.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-rover/pkg/hal"
)

// Distance is a distance estimate in centimetres.
type Distance uint

// Config holds the sampler tunables.
type Config struct {
	// Samples is how many raw readings are averaged per Sample.
	Samples int `yaml:"samples" json:"samples"`

	// Divisor converts echo microseconds to centimetres.
	Divisor uint `yaml:"divisor" json:"divisor"`

	// TriggerPulse is the width of the trigger pulse.
	TriggerPulse time.Duration `yaml:"trigger_pulse" json:"trigger_pulse"`

	// SettleDelay is the pause after every reading so echoes die out.
	SettleDelay time.Duration `yaml:"settle_delay" json:"settle_delay"`

	// EchoTimeout bounds each edge wait. An out-of-range echo on the usual
	// module is ~38ms wide, so this must stay above that.
	EchoTimeout time.Duration `yaml:"echo_timeout" json:"echo_timeout"`
}

// DefaultConfig returns the reference vehicle's sampler settings.
func DefaultConfig() Config {
	return Config{
		Samples:      3,
		Divisor:      58,
		TriggerPulse: 10 * time.Microsecond,
		SettleDelay:  60 * time.Millisecond,
		EchoTimeout:  40 * time.Millisecond,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.Samples < 1:
		return fmt.Errorf("sensor: samples must be >= 1, got %d", c.Samples)
	case c.Divisor == 0:
		return errors.New("sensor: divisor must be > 0")
	case c.TriggerPulse <= 0:
		return errors.New("sensor: trigger_pulse must be > 0")
	case c.SettleDelay < 0:
		return errors.New("sensor: settle_delay must not be negative")
	case c.EchoTimeout <= 0:
		return errors.New("sensor: echo_timeout must be > 0")
	}
	return nil
}

// Ranger is the distance sampler. It owns the trigger and echo pins and is
// used by a single task.
type Ranger struct {
	trig  hal.OutputPin
	echo  hal.InputPin
	clock hal.Clock
	cfg   Config
}

// NewRanger returns a sampler on the given pins.
func NewRanger(trig hal.OutputPin, echo hal.InputPin, clock hal.Clock, cfg Config) *Ranger {
	return &Ranger{trig: trig, echo: echo, clock: clock, cfg: cfg}
}

// Sample takes cfg.Samples readings, each followed by the settle delay, and
// returns their truncated mean. A reading whose echo never arrives ends the
// sample with ErrNoReading.
func (r *Ranger) Sample(ctx context.Context) (Distance, error) {
	var sum uint
	for i := 0; i < r.cfg.Samples; i++ {
		d, err := r.read(ctx)
		if serr := r.clock.Sleep(ctx, r.cfg.SettleDelay); serr != nil {
			return 0, serr
		}
		if err != nil {
			return 0, err
		}
		sum += uint(d)
	}
	return Distance(sum / uint(r.cfg.Samples)), nil
}

// read performs one trigger/echo exchange.
func (r *Ranger) read(ctx context.Context) (Distance, error) {
	var (
		width time.Duration
		err   error
	)
	if et, ok := r.echo.(hal.EchoTimer); ok {
		width, err = et.TimeEcho(ctx, r.trig, r.cfg.TriggerPulse, r.cfg.EchoTimeout)
		err = r.backendErr(err)
	} else {
		width, err = r.triggerAndWait(ctx)
	}
	if err != nil {
		return 0, err
	}
	us := uint(width / time.Microsecond)
	return Distance(us / r.cfg.Divisor), nil
}

func (r *Ranger) triggerAndWait(ctx context.Context) (time.Duration, error) {
	if err := r.trig.Set(hal.High); err != nil {
		return 0, fmt.Errorf("trigger: %w", err)
	}
	if err := r.clock.Sleep(ctx, r.cfg.TriggerPulse); err != nil {
		r.trig.Set(hal.Low)
		return 0, err
	}
	if err := r.trig.Set(hal.Low); err != nil {
		return 0, fmt.Errorf("trigger: %w", err)
	}
	return r.echoWidth(ctx)
}

// backendErr maps a backend's missing pulse to ErrNoReading.
func (r *Ranger) backendErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hal.ErrNoPulse):
		return fmt.Errorf("%w: %v", ErrNoReading, err)
	}
	return fmt.Errorf("echo: %w", err)
}

func (r *Ranger) echoWidth(ctx context.Context) (time.Duration, error) {
	if pr, ok := r.echo.(hal.PulseReader); ok {
		w, err := pr.ReadPulse(ctx, r.cfg.EchoTimeout)
		if err != nil {
			return 0, r.backendErr(err)
		}
		return w, nil
	}

	rise, err := r.waitFor(ctx, hal.High)
	if err != nil {
		return 0, err
	}
	fall, err := r.waitFor(ctx, hal.Low)
	if err != nil {
		return 0, err
	}
	return fall.Sub(rise), nil
}

// waitFor polls the echo pin until it reads want, returning the time it was
// observed. The wait gives up after cfg.EchoTimeout.
func (r *Ranger) waitFor(ctx context.Context, want hal.Level) (time.Time, error) {
	start := r.clock.Now()
	for {
		l, err := r.echo.Get()
		if err != nil {
			return time.Time{}, fmt.Errorf("echo: %w", err)
		}
		now := r.clock.Now()
		if l == want {
			return now, nil
		}
		if now.Sub(start) > r.cfg.EchoTimeout {
			return time.Time{}, fmt.Errorf("%w: echo stayed %s for %v", ErrNoReading, !want, r.cfg.EchoTimeout)
		}
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
	}
}
