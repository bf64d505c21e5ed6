package safety

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/teslashibe/go-rover/pkg/hal"
	"github.com/teslashibe/go-rover/pkg/sensor"
)

// Config holds the monitor tunables.
type Config struct {
	// ThresholdCM is the minimum clearance for forward motion.
	ThresholdCM uint `yaml:"threshold_cm" json:"threshold_cm"`

	// LockTimeout bounds each flag acquisition by the monitor.
	LockTimeout time.Duration `yaml:"lock_timeout" json:"lock_timeout"`

	// CycleInterval is the yield between cycles. The cycle period is
	// dominated by the sensor's settle delays, not by this.
	CycleInterval time.Duration `yaml:"cycle_interval" json:"cycle_interval"`
}

// DefaultConfig returns the reference vehicle's monitor settings.
func DefaultConfig() Config {
	return Config{
		ThresholdCM:   25,
		LockTimeout:   1 * time.Millisecond,
		CycleInterval: 2 * time.Millisecond,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.LockTimeout <= 0:
		return errors.New("safety: lock_timeout must be > 0")
	case c.CycleInterval < 0:
		return errors.New("safety: cycle_interval must not be negative")
	}
	return nil
}

// DistanceSource produces one averaged distance per call.
type DistanceSource interface {
	Sample(ctx context.Context) (sensor.Distance, error)
}

// Observer receives the result of every monitor cycle.
type Observer interface {
	ObserveCycle(CycleResult)
}

// CycleResult describes one monitor cycle.
type CycleResult struct {
	At        time.Time
	Distance  sensor.Distance
	Known     bool  // false when the sensor gave no reading
	Safe      bool  // value written, or that would have been written
	Committed bool  // the flag and indicator were updated
	Err       error // sensor error or ErrLockTimeout
}

// Stats are cumulative monitor counters.
type Stats struct {
	Cycles    uint64 `json:"cycles"`
	Commits   uint64 `json:"commits"`
	Contended uint64 `json:"contended"`
	NoReading uint64 `json:"no_reading"`
}

// Monitor samples the distance source and keeps the Flag and the indicator
// output in step with it. It is the only writer of the flag.
type Monitor struct {
	src       DistanceSource
	flag      *Flag
	indicator hal.OutputPin
	clock     hal.Clock
	cfg       Config
	log       *slog.Logger

	mu    sync.Mutex
	obs   Observer
	stats Stats
}

// NewMonitor returns a monitor. indicator mirrors the flag after each
// committed update.
func NewMonitor(src DistanceSource, flag *Flag, indicator hal.OutputPin, clock hal.Clock, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		src:       src,
		flag:      flag,
		indicator: indicator,
		clock:     clock,
		cfg:       cfg,
		log:       logger,
	}
}

// SetObserver registers o for cycle results.
func (m *Monitor) SetObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs = o
}

// Stats returns a snapshot of the counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Run cycles until ctx is done. The goroutine is pinned to its own OS thread
// so sampling never queues behind network or motor work.
func (m *Monitor) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	m.log.Info("safety monitor started", "threshold_cm", m.cfg.ThresholdCM)
	defer m.log.Info("safety monitor stopped")

	for {
		if _, err := m.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := m.clock.Sleep(ctx, m.cfg.CycleInterval); err != nil {
			return nil
		}
	}
}

// Cycle runs one sample-and-update step. An unknown distance commits the
// unsafe state. A lock timeout leaves the flag and indicator untouched.
// The only error returned is ctx's.
func (m *Monitor) Cycle(ctx context.Context) (CycleResult, error) {
	d, err := m.src.Sample(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return CycleResult{}, ctxErr
	}

	res := CycleResult{
		At:       m.clock.Now(),
		Distance: d,
		Known:    err == nil,
		Err:      err,
	}
	res.Safe = res.Known && uint(d) >= m.cfg.ThresholdCM

	if !res.Known {
		m.log.Warn("no distance reading, failing safe", "error", err)
	}

	g, lerr := m.flag.Acquire(m.cfg.LockTimeout)
	if lerr != nil {
		res.Err = lerr
		m.log.Warn("safety flag busy, skipping update", "timeout", m.cfg.LockTimeout)
		m.record(res)
		return res, nil
	}
	prev := g.Safe()
	g.Set(res.Safe)
	g.Release()
	res.Committed = true

	if err := m.indicator.Set(hal.Level(res.Safe)); err != nil {
		m.log.Warn("indicator update failed", "error", err)
	}
	if prev != res.Safe {
		m.log.Info("safety changed", "safe", res.Safe, "distance_cm", d, "known", res.Known)
	} else {
		m.log.Debug("safety cycle", "safe", res.Safe, "distance_cm", d)
	}

	m.record(res)
	return res, nil
}

func (m *Monitor) record(res CycleResult) {
	m.mu.Lock()
	m.stats.Cycles++
	switch {
	case res.Committed:
		m.stats.Commits++
	case errors.Is(res.Err, ErrLockTimeout):
		m.stats.Contended++
	}
	if !res.Known {
		m.stats.NoReading++
	}
	obs := m.obs
	m.mu.Unlock()

	if obs != nil {
		obs.ObserveCycle(res)
	}
}
