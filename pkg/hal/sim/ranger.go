package sim

import (
	"sync"
	"time"

	"github.com/teslashibe/go-rover/pkg/hal"
)

// RoundTripPerCM is the echo time per centimetre of an HC-SR04 style sensor.
const RoundTripPerCM = 58 * time.Microsecond

// DefaultEchoDelay is the gap between the trigger falling edge and the echo
// rising edge on a real module.
const DefaultEchoDelay = 450 * time.Microsecond

// Silent is a scripted reading that never produces an echo.
const Silent = -1

// Ranger simulates an ultrasonic distance sensor. A falling edge on the
// trigger pin schedules one echo pulse whose width encodes the distance.
//
// The pulse is half a centimetre wider than the exact round trip so that a
// polling reader truncating to whole centimetres lands on the intended value.
type Ranger struct {
	mu        sync.Mutex
	now       func() time.Time
	distance  int
	script    []int
	echoDelay time.Duration

	triggerHigh bool
	armed       bool
	start, end  time.Time
	triggers    int

	trig *Pin
	echo *echoPin
}

// NewRanger returns a ranger reporting distanceCM until told otherwise.
func NewRanger(clock hal.Clock, trigNum, echoNum int, distanceCM int) *Ranger {
	now := timeSource(clock)
	r := &Ranger{
		now:       now,
		distance:  distanceCM,
		echoDelay: DefaultEchoDelay,
	}
	r.trig = newPin(trigNum, now)
	r.trig.onSet = r.onTrigger
	r.echo = &echoPin{name: newPin(echoNum, now).Name(), r: r}
	return r
}

// Trigger is the sensor's trigger input (a rover output).
func (r *Ranger) Trigger() *Pin {
	return r.trig
}

// Echo is the sensor's echo output (a rover input).
func (r *Ranger) Echo() hal.InputPin {
	return r.echo
}

// SetDistance changes the reported distance. Silent disables the echo.
func (r *Ranger) SetDistance(cm int) {
	r.mu.Lock()
	r.distance = cm
	r.mu.Unlock()
}

// Script queues per-trigger readings consumed before falling back to the
// fixed distance. Use Silent for a reading that never echoes.
func (r *Ranger) Script(readings ...int) {
	r.mu.Lock()
	r.script = append(r.script, readings...)
	r.mu.Unlock()
}

// SetEchoDelay overrides DefaultEchoDelay.
func (r *Ranger) SetEchoDelay(d time.Duration) {
	r.mu.Lock()
	r.echoDelay = d
	r.mu.Unlock()
}

// Triggers returns how many trigger pulses the sensor has seen.
func (r *Ranger) Triggers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggers
}

func (r *Ranger) onTrigger(l hal.Level) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l == hal.High {
		r.triggerHigh = true
		return
	}
	if !r.triggerHigh {
		return
	}
	r.triggerHigh = false
	r.triggers++

	cm := r.distance
	if len(r.script) > 0 {
		cm = r.script[0]
		r.script = r.script[1:]
	}
	if cm < 0 {
		r.armed = false
		return
	}

	width := time.Duration(cm)*RoundTripPerCM + RoundTripPerCM/2
	r.start = r.now().Add(r.echoDelay)
	r.end = r.start.Add(width)
	r.armed = true
}

func (r *Ranger) level() hal.Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed {
		return hal.Low
	}
	t := r.now()
	if t.Before(r.start) {
		return hal.Low
	}
	if t.Before(r.end) {
		return hal.High
	}
	r.armed = false
	return hal.Low
}

type echoPin struct {
	name string
	r    *Ranger
}

func (e *echoPin) Name() string {
	return e.name
}

func (e *echoPin) Get() (hal.Level, error) {
	return e.r.level(), nil
}
