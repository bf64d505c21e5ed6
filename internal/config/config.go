// Package config loads the rover's settings: defaults, then an optional
// YAML file, then ROVER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-rover/pkg/command"
	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/hal"
	"github.com/teslashibe/go-rover/pkg/remote"
	"github.com/teslashibe/go-rover/pkg/safety"
	"github.com/teslashibe/go-rover/pkg/sensor"
	"github.com/teslashibe/go-rover/pkg/telemetry"
)

// Backends selectable with Config.Backend.
const (
	BackendSim    = "sim"
	BackendSerial = "serial"
	BackendPeriph = "periph"
)

// Serial configures the microcontroller bridge backend.
type Serial struct {
	Port    string        `yaml:"port" json:"port"`
	Baud    int           `yaml:"baud" json:"baud"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Sim configures the simulated board.
type Sim struct {
	// DistanceCM is the obstacle distance the simulated ranger reports.
	DistanceCM int `yaml:"distance_cm" json:"distance_cm"`
}

// Config is the complete rover configuration.
type Config struct {
	LogLevel      string           `yaml:"log_level" json:"log_level"`
	Backend       string           `yaml:"backend" json:"backend"`
	Pins          hal.PinMap       `yaml:"pins" json:"pins"`
	Sensor        sensor.Config    `yaml:"sensor" json:"sensor"`
	Safety        safety.Config    `yaml:"safety" json:"safety"`
	Drive         drive.Config     `yaml:"drive" json:"drive"`
	QueueCapacity int              `yaml:"queue_capacity" json:"queue_capacity"`
	Remote        remote.Config    `yaml:"remote" json:"remote"`
	Telemetry     telemetry.Config `yaml:"telemetry" json:"telemetry"`
	Serial        Serial           `yaml:"serial" json:"serial"`
	Sim           Sim              `yaml:"sim" json:"sim"`
}

// Default returns the reference vehicle's configuration on the simulated
// board.
func Default() Config {
	return Config{
		LogLevel:      "info",
		Backend:       BackendSim,
		Pins:          hal.DefaultPinMap(),
		Sensor:        sensor.DefaultConfig(),
		Safety:        safety.DefaultConfig(),
		Drive:         drive.DefaultConfig(),
		QueueCapacity: command.DefaultCapacity,
		Remote:        remote.DefaultConfig(),
		Telemetry:     telemetry.DefaultConfig(),
		Serial: Serial{
			Port:    "/dev/ttyACM0",
			Baud:    115200,
			Timeout: 200 * time.Millisecond,
		},
		Sim: Sim{DistanceCM: 100},
	}
}

// Load returns Default overlaid with the YAML file at path and then the
// environment. An empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv applies ROVER_* overrides read through lookup.
//
//	ROVER_LOG_LEVEL       log level
//	ROVER_BACKEND         sim, serial or periph
//	ROVER_ADDR            command channel listen address
//	ROVER_THRESHOLD_CM    safety threshold
//	ROVER_PULSE           motor pulse, e.g. 5ms
//	ROVER_TELEMETRY_ADDR  telemetry listen address; setting it enables the API
//	ROVER_SERIAL_PORT     serial bridge device
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("ROVER_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("ROVER_BACKEND"); ok && v != "" {
		c.Backend = v
	}
	if v, ok := lookup("ROVER_ADDR"); ok && v != "" {
		c.Remote.Addr = v
	}
	if v, ok := lookup("ROVER_THRESHOLD_CM"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("config: ROVER_THRESHOLD_CM: %w", err)
		}
		c.Safety.ThresholdCM = uint(n)
	}
	if v, ok := lookup("ROVER_PULSE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: ROVER_PULSE: %w", err)
		}
		c.Drive.Pulse = d
	}
	if v, ok := lookup("ROVER_TELEMETRY_ADDR"); ok && v != "" {
		c.Telemetry.Addr = v
		c.Telemetry.Enabled = true
	}
	if v, ok := lookup("ROVER_SERIAL_PORT"); ok && v != "" {
		c.Serial.Port = v
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSim, BackendSerial, BackendPeriph:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.QueueCapacity < 1 {
		return errors.New("config: queue_capacity must be >= 1")
	}
	if c.Backend == BackendSerial {
		if c.Serial.Port == "" {
			return errors.New("config: serial.port required for the serial backend")
		}
		if c.Serial.Baud <= 0 || c.Serial.Timeout <= 0 {
			return errors.New("config: serial.baud and serial.timeout must be > 0")
		}
	}
	if c.Backend == BackendSim && c.Sim.DistanceCM < 0 {
		return errors.New("config: sim.distance_cm must not be negative")
	}
	if c.Telemetry.Enabled && c.Telemetry.Addr == c.Remote.Addr {
		return errors.New("config: telemetry and remote cannot share an address")
	}

	for _, v := range []interface{ Validate() error }{
		c.Pins, c.Sensor, c.Safety, c.Drive, c.Remote, c.Telemetry,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
