// Package drive executes motion commands on the propulsion outputs.
//
// Commands are open-loop pulses: a pair of direction outputs is held high for
// a fixed duration and dropped again. Only forward motion is gated by the
// safety flag.
package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-rover/pkg/command"
	"github.com/teslashibe/go-rover/pkg/hal"
	"github.com/teslashibe/go-rover/pkg/safety"
)

// Config holds the actuator tunables.
type Config struct {
	// Pulse is how long a command drives its outputs.
	Pulse time.Duration `yaml:"pulse" json:"pulse"`

	// LockTimeout bounds the safety flag acquisition for forward commands.
	LockTimeout time.Duration `yaml:"lock_timeout" json:"lock_timeout"`
}

// DefaultConfig returns the reference vehicle's actuator settings.
func DefaultConfig() Config {
	return Config{
		Pulse:       5 * time.Millisecond,
		LockTimeout: 2 * time.Millisecond,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.Pulse <= 0:
		return errors.New("drive: pulse must be > 0")
	case c.LockTimeout <= 0:
		return errors.New("drive: lock_timeout must be > 0")
	}
	return nil
}

// Motors are the four direction outputs, two per side.
type Motors struct {
	LeftForward   hal.OutputPin
	LeftBackward  hal.OutputPin
	RightForward  hal.OutputPin
	RightBackward hal.OutputPin
}

func (m Motors) all() []hal.OutputPin {
	return []hal.OutputPin{m.LeftForward, m.LeftBackward, m.RightForward, m.RightBackward}
}

// pairs joins the outputs that realise each command, so backends that can
// switch several pins at once raise and drop both sides together.
func (m Motors) pairs() map[command.Command]hal.OutputPin {
	return map[command.Command]hal.OutputPin{
		command.Forward:   hal.Join(m.RightForward, m.LeftForward),
		command.Reverse:   hal.Join(m.RightBackward, m.LeftBackward),
		command.TurnLeft:  hal.Join(m.LeftBackward, m.RightForward),
		command.TurnRight: hal.Join(m.RightBackward, m.LeftForward),
	}
}

// Observer receives the result of every executed command.
type Observer interface {
	ObserveCommand(Result)
}

// Actuator consumes the command queue and drives the motors. It is the only
// owner of the motor outputs.
type Actuator struct {
	motors Motors
	pairs  map[command.Command]hal.OutputPin
	flag   *safety.Flag
	queue  *command.Queue
	clock  hal.Clock
	cfg    Config
	log    *slog.Logger

	mu    sync.Mutex
	obs   Observer
	stats Stats
}

// New returns an actuator. flag is only ever read.
func New(motors Motors, flag *safety.Flag, queue *command.Queue, clock hal.Clock, cfg Config, logger *slog.Logger) *Actuator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actuator{
		motors: motors,
		pairs:  motors.pairs(),
		flag:   flag,
		queue:  queue,
		clock:  clock,
		cfg:    cfg,
		log:    logger,
	}
}

// SetObserver registers o for command results.
func (a *Actuator) SetObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.obs = o
}

// Stats returns a snapshot of the counters.
func (a *Actuator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Dispatch runs until ctx is done: stop all outputs, wait for the next
// command, execute it. Commands run strictly in queue order. Execution
// failures are logged and never end the loop.
func (a *Actuator) Dispatch(ctx context.Context) error {
	a.log.Info("actuator started", "pulse", a.cfg.Pulse)
	defer func() {
		if err := a.Stop(); err != nil {
			a.log.Error("failed to stop motors on exit", "error", err)
		}
		a.log.Info("actuator stopped")
	}()

	for {
		if err := a.Stop(); err != nil {
			a.log.Error("failed to reset motors", "error", err)
		}

		env, err := a.queue.Receive(ctx)
		if err != nil {
			return nil
		}

		res := a.Execute(ctx, env)
		if res.Err != nil && ctx.Err() == nil {
			a.log.Error("command failed", "command", env.Command, "id", env.ID, "error", res.Err)
		}
	}
}

// Stop drives every motor output low. All four are attempted even if one
// fails.
func (a *Actuator) Stop() error {
	var errs []error
	for _, p := range a.motors.all() {
		if err := p.Set(hal.Low); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Execute performs one command. Reverse and turns always pulse. Forward
// pulses only when the flag is acquired and safe; otherwise it is skipped
// with OutcomeBlocked or OutcomeContended.
func (a *Actuator) Execute(ctx context.Context, env command.Envelope) Result {
	res := Result{Envelope: env, Started: a.clock.Now()}

	pair, ok := a.pairs[env.Command]
	if !ok {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("%w: %v", command.ErrInvalidCommand, env.Command)
		return a.finish(res)
	}

	if env.Command != command.Forward {
		res.Err = a.pulse(ctx, pair)
		res.Outcome = outcomeFor(res.Err)
		a.log.Debug("command executed", "command", env.Command, "id", env.ID)
		return a.finish(res)
	}

	g, err := a.flag.Acquire(a.cfg.LockTimeout)
	if err != nil {
		res.Outcome = OutcomeContended
		a.log.Warn("safety flag busy, skipping forward", "id", env.ID, "timeout", a.cfg.LockTimeout)
		return a.finish(res)
	}
	defer g.Release()

	if !g.Safe() {
		res.Outcome = OutcomeBlocked
		a.log.Warn("forward blocked for safety", "id", env.ID)
		return a.finish(res)
	}

	res.Err = a.pulse(ctx, pair)
	res.Outcome = outcomeFor(res.Err)
	a.log.Debug("command executed", "command", env.Command, "id", env.ID)
	return a.finish(res)
}

// pulse raises the pair, holds for cfg.Pulse and lowers it. The pair is
// lowered even if raising failed or the hold was interrupted.
func (a *Actuator) pulse(ctx context.Context, pair hal.OutputPin) error {
	defer func() {
		if err := pair.Set(hal.Low); err != nil {
			a.log.Error("failed to lower outputs", "pins", pair.Name(), "error", err)
		}
	}()

	if err := pair.Set(hal.High); err != nil {
		return err
	}
	return a.clock.Sleep(ctx, a.cfg.Pulse)
}

func outcomeFor(err error) Outcome {
	if err != nil {
		return OutcomeFailed
	}
	return OutcomeMoved
}

func (a *Actuator) finish(res Result) Result {
	res.Finished = a.clock.Now()

	a.mu.Lock()
	a.stats.count(res.Outcome)
	obs := a.obs
	a.mu.Unlock()

	if obs != nil {
		obs.ObserveCommand(res)
	}
	return res
}
