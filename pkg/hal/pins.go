package hal

import "fmt"

// PinMap assigns GPIO numbers to the rover's signals.
type PinMap struct {
	Trigger       int `yaml:"trigger" json:"trigger"`
	Echo          int `yaml:"echo" json:"echo"`
	RightForward  int `yaml:"right_forward" json:"right_forward"`
	RightBackward int `yaml:"right_backward" json:"right_backward"`
	LeftForward   int `yaml:"left_forward" json:"left_forward"`
	LeftBackward  int `yaml:"left_backward" json:"left_backward"`
	Indicator     int `yaml:"indicator" json:"indicator"`
}

// DefaultPinMap is the wiring of the reference vehicle.
//
//	gpio  signal
//	0     ultrasonic trigger
//	1     ultrasonic echo
//	14    right motor forward
//	15    right motor backward
//	16    left motor forward
//	17    left motor backward
//	18    safety indicator (on = safe to move forward)
func DefaultPinMap() PinMap {
	return PinMap{
		Trigger:       0,
		Echo:          1,
		RightForward:  14,
		RightBackward: 15,
		LeftForward:   16,
		LeftBackward:  17,
		Indicator:     18,
	}
}

// Validate checks that every signal has its own non-negative pin.
func (m PinMap) Validate() error {
	named := []struct {
		name string
		pin  int
	}{
		{"trigger", m.Trigger},
		{"echo", m.Echo},
		{"right_forward", m.RightForward},
		{"right_backward", m.RightBackward},
		{"left_forward", m.LeftForward},
		{"left_backward", m.LeftBackward},
		{"indicator", m.Indicator},
	}

	seen := make(map[int]string, len(named))
	for _, n := range named {
		if n.pin < 0 {
			return fmt.Errorf("pins: %s has negative pin %d", n.name, n.pin)
		}
		if other, ok := seen[n.pin]; ok {
			return fmt.Errorf("pins: %s and %s share pin %d", other, n.name, n.pin)
		}
		seen[n.pin] = n.name
	}
	return nil
}
