package drive

import (
	"time"

	"github.com/teslashibe/go-rover/pkg/command"
)

// Outcome is what happened to one command.
type Outcome int

const (
	// OutcomeMoved means the outputs were pulsed.
	OutcomeMoved Outcome = iota
	// OutcomeBlocked means forward was refused because the flag was unsafe.
	OutcomeBlocked
	// OutcomeContended means the flag could not be acquired in time.
	OutcomeContended
	// OutcomeFailed means an output could not be driven.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMoved:
		return "moved"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeContended:
		return "contended"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes one executed command.
type Result struct {
	command.Envelope
	Outcome  Outcome
	Started  time.Time
	Finished time.Time
	Err      error
}

// Stats are cumulative actuator counters.
type Stats struct {
	Moved     uint64 `json:"moved"`
	Blocked   uint64 `json:"blocked"`
	Contended uint64 `json:"contended"`
	Failed    uint64 `json:"failed"`
}

func (s *Stats) count(o Outcome) {
	switch o {
	case OutcomeMoved:
		s.Moved++
	case OutcomeBlocked:
		s.Blocked++
	case OutcomeContended:
		s.Contended++
	default:
		s.Failed++
	}
}
