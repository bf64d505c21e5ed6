// Command rover runs the rover controller: the safety monitor, the actuator
// and the command channel, on simulated, serial-bridged or host GPIO pins.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/hal"
	"github.com/teslashibe/go-rover/pkg/hal/periph"
	"github.com/teslashibe/go-rover/pkg/hal/serialbridge"
	"github.com/teslashibe/go-rover/pkg/hal/sim"
	"github.com/teslashibe/go-rover/pkg/rover"
)

func main() {
	app := cli.NewApp()
	app.Name = "rover"
	app.Usage = "run the rover controller"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config",
			Value:  "rover.yaml",
			Usage:  "YAML config file (missing file means defaults)",
			EnvVar: "ROVER_CONFIG",
		},
		cli.StringFlag{
			Name:  "backend",
			Usage: "pin backend: sim, serial or periph",
		},
		cli.StringFlag{
			Name:  "serial",
			Usage: "serial port of the pin bridge",
		},
		cli.StringFlag{
			Name:  "addr",
			Usage: "command channel listen address",
		},
		cli.StringFlag{
			Name:  "telemetry",
			Usage: "telemetry API listen address (enables the API)",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
		cli.IntFlag{
			Name:  "sim-distance",
			Usage: "obstacle distance in cm for the sim backend",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "rover: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	applyFlags(c, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Init(cfg.LogLevel)
	log.Info("🤖 rover controller",
		"backend", cfg.Backend,
		"addr", cfg.Remote.Addr,
		"telemetry", cfg.Telemetry.Enabled,
	)

	board, err := openBoard(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := board.Close(); err != nil {
			log.Warn("failed to close board", "error", err)
		}
	}()
	log.Debug("board open", "backend", cfg.Backend)

	r, err := rover.New(cfg, board, hal.SystemClock{}, log.With("backend", cfg.Backend))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := r.Run(ctx); err != nil {
		log.Error("rover failed", "error", err)
		return err
	}
	log.Info("👋 goodbye")
	return nil
}

// applyFlags lets explicitly set flags win over the file and environment.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
	}
	if c.IsSet("serial") {
		cfg.Serial.Port = c.String("serial")
	}
	if c.IsSet("addr") {
		cfg.Remote.Addr = c.String("addr")
	}
	if c.IsSet("telemetry") {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Addr = c.String("telemetry")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("sim-distance") {
		cfg.Sim.DistanceCM = c.Int("sim-distance")
	}
}

func openBoard(cfg config.Config) (hal.Board, error) {
	switch cfg.Backend {
	case config.BackendSim:
		board, _ := sim.NewRangerBoard(hal.SystemClock{}, cfg.Pins.Trigger, cfg.Pins.Echo, cfg.Sim.DistanceCM)
		return board, nil
	case config.BackendSerial:
		bridge, err := serialbridge.Open(cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.Timeout, log.Component("serialbridge"))
		if err != nil {
			return nil, err
		}
		return serialbridge.NewBoard(bridge), nil
	case config.BackendPeriph:
		return periph.Open()
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
