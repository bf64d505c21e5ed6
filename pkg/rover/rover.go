// Package rover wires the rover's tasks together: the safety monitor, the
// actuator and the command channel share one safety flag and one command
// queue, and the optional telemetry API observes all three.
package rover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/pkg/command"
	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/hal"
	"github.com/teslashibe/go-rover/pkg/hub"
	"github.com/teslashibe/go-rover/pkg/remote"
	"github.com/teslashibe/go-rover/pkg/safety"
	"github.com/teslashibe/go-rover/pkg/sensor"
	"github.com/teslashibe/go-rover/pkg/telemetry"
)

// Rover owns the tasks and the state they share.
type Rover struct {
	cfg config.Config
	log *slog.Logger

	flag  *safety.Flag
	queue *command.Queue

	monitor   *safety.Monitor
	actuator  *drive.Actuator
	remote    *remote.Server
	recorder  *telemetry.Recorder
	telemetry *telemetry.Server
}

// New opens the configured pins on board and builds the tasks. The flag
// starts safe and the indicator starts high.
func New(cfg config.Config, board hal.Board, clock hal.Clock, logger *slog.Logger) (*Rover, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	pins := cfg.Pins

	var (
		trig, indicator hal.OutputPin
		motors          drive.Motors
		echo            hal.InputPin
		err             error
	)
	if trig, err = board.Output(pins.Trigger); err != nil {
		return nil, fmt.Errorf("rover: trigger: %w", err)
	}
	if echo, err = board.Input(pins.Echo); err != nil {
		return nil, fmt.Errorf("rover: echo: %w", err)
	}
	if motors.RightForward, err = board.Output(pins.RightForward); err != nil {
		return nil, fmt.Errorf("rover: right forward: %w", err)
	}
	if motors.RightBackward, err = board.Output(pins.RightBackward); err != nil {
		return nil, fmt.Errorf("rover: right backward: %w", err)
	}
	if motors.LeftForward, err = board.Output(pins.LeftForward); err != nil {
		return nil, fmt.Errorf("rover: left forward: %w", err)
	}
	if motors.LeftBackward, err = board.Output(pins.LeftBackward); err != nil {
		return nil, fmt.Errorf("rover: left backward: %w", err)
	}
	if indicator, err = board.Output(pins.Indicator); err != nil {
		return nil, fmt.Errorf("rover: indicator: %w", err)
	}
	if err := indicator.Set(hal.High); err != nil {
		return nil, fmt.Errorf("rover: indicator: %w", err)
	}

	r := &Rover{
		cfg:   cfg,
		log:   logger,
		flag:  safety.NewFlag(true),
		queue: command.NewQueue(cfg.QueueCapacity),
	}

	ranger := sensor.NewRanger(trig, echo, clock, cfg.Sensor)
	r.monitor = safety.NewMonitor(ranger, r.flag, indicator, clock, cfg.Safety, logger.With("component", "safety"))
	r.actuator = drive.New(motors, r.flag, r.queue, clock, cfg.Drive, logger.With("component", "drive"))
	r.remote = remote.NewServer(r.queue, cfg.Remote, logger.With("component", "remote"))

	if cfg.Telemetry.Enabled {
		tlog := logger.With("component", "telemetry")
		r.recorder = telemetry.NewRecorder(hub.New("events", tlog), telemetry.Sources{
			Monitor:  r.monitor,
			Actuator: r.actuator,
			Queue:    r.queue,
		}, cfg.Telemetry.Backlog)
		r.monitor.SetObserver(r.recorder)
		r.actuator.SetObserver(r.recorder)
		r.remote.SetObserver(r.recorder)
		r.telemetry = telemetry.NewServer(r.recorder, cfg.Telemetry, tlog)
	}
	return r, nil
}

// Flag returns the shared safety flag.
func (r *Rover) Flag() *safety.Flag { return r.flag }

// Queue returns the command queue.
func (r *Rover) Queue() *command.Queue { return r.queue }

// Recorder returns the telemetry recorder, or nil when telemetry is off.
func (r *Rover) Recorder() *telemetry.Recorder { return r.recorder }

// Run listens on the configured addresses and runs until ctx is done or a
// task fails.
func (r *Rover) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.Remote.Addr)
	if err != nil {
		return fmt.Errorf("rover: command channel: %w", err)
	}
	var tln net.Listener
	if r.telemetry != nil {
		if tln, err = net.Listen("tcp", r.cfg.Telemetry.Addr); err != nil {
			ln.Close()
			return fmt.Errorf("rover: telemetry: %w", err)
		}
	}
	return r.Serve(ctx, ln, tln)
}

// Serve runs every task on the given listeners. tln may be nil. When one
// task fails the others are stopped. The motors are left off on return.
func (r *Rover) Serve(ctx context.Context, ln, tln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("task failed", "task", name, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
				cancel()
			}
		}()
	}

	r.log.Info("rover starting",
		"threshold_cm", r.cfg.Safety.ThresholdCM,
		"pulse", r.cfg.Drive.Pulse,
		"queue", r.queue.Cap(),
	)
	start("safety", r.monitor.Run)
	start("drive", r.actuator.Dispatch)
	start("remote", func(ctx context.Context) error { return r.remote.Serve(ctx, ln) })
	if r.telemetry != nil && tln != nil {
		start("telemetry", func(ctx context.Context) error { return r.telemetry.Serve(ctx, tln) })
	} else if tln != nil {
		tln.Close()
	}

	wg.Wait()
	if err := r.actuator.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop motors: %w", err))
	}
	r.log.Info("rover stopped")
	return errors.Join(errs...)
}
