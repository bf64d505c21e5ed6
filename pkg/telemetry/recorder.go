// Package telemetry records what the rover's tasks are doing and serves it
// as a read-only dashboard API: a status snapshot, a ring of recent events
// and a websocket stream of new ones.
package telemetry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/hub"
	"github.com/teslashibe/go-rover/pkg/remote"
	"github.com/teslashibe/go-rover/pkg/safety"
)

// DefaultBacklog is the number of events kept for /api/events.
const DefaultBacklog = 200

// Kind classifies an event.
type Kind string

const (
	KindSafety  Kind = "safety"
	KindCommand Kind = "command"
	KindRequest Kind = "request"
)

// Event is one entry in the event ring.
type Event struct {
	Seq     uint64         `json:"seq"`
	Time    time.Time      `json:"time"`
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Status is the dashboard snapshot.
type Status struct {
	BootID        string       `json:"boot_id"`
	Started       time.Time    `json:"started"`
	Uptime        string       `json:"uptime"`
	Safe          bool         `json:"safe"`
	DistanceCM    uint         `json:"distance_cm"`
	DistanceKnown bool         `json:"distance_known"`
	LastCycle     time.Time    `json:"last_cycle"`
	QueueDepth    int          `json:"queue_depth"`
	QueueCapacity int          `json:"queue_capacity"`
	Requests      uint64       `json:"requests"`
	Unmatched     uint64       `json:"unmatched"`
	Monitor       safety.Stats `json:"monitor"`
	Actuator      drive.Stats  `json:"actuator"`
	Clients       int          `json:"clients"`
}

// Sources supplies the counters the recorder does not keep itself. Any
// field may be nil.
type Sources struct {
	Monitor  interface{ Stats() safety.Stats }
	Actuator interface{ Stats() drive.Stats }
	Queue    interface {
		Len() int
		Cap() int
	}
}

// Recorder observes the monitor, the actuator and the command channel.
// It implements safety.Observer, drive.Observer and remote.Observer.
type Recorder struct {
	bootID  string
	started time.Time
	hub     *hub.Hub
	src     Sources

	mu        sync.RWMutex
	events    []Event
	backlog   int
	seq       uint64
	safe      bool
	distance  uint
	known     bool
	lastCycle time.Time
	seen      bool
	requests  uint64
	unmatched uint64
}

var (
	_ safety.Observer = (*Recorder)(nil)
	_ drive.Observer  = (*Recorder)(nil)
	_ remote.Observer = (*Recorder)(nil)
)

// NewRecorder returns a recorder broadcasting to h, which may be nil.
// A backlog <= 0 uses DefaultBacklog.
func NewRecorder(h *hub.Hub, src Sources, backlog int) *Recorder {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Recorder{
		bootID:  uuid.NewString(),
		started: time.Now(),
		hub:     h,
		src:     src,
		backlog: backlog,
		events:  make([]Event, 0, backlog),
		safe:    true,
	}
}

// BootID identifies this run of the process.
func (r *Recorder) BootID() string {
	return r.bootID
}

// Hub returns the broadcast hub, or nil.
func (r *Recorder) Hub() *hub.Hub {
	return r.hub
}

// ObserveCycle records safety transitions and cycle failures. Steady
// cycles only update the snapshot.
func (r *Recorder) ObserveCycle(res safety.CycleResult) {
	r.mu.Lock()
	r.lastCycle = res.At
	r.distance = uint(res.Distance)
	r.known = res.Known
	changed := false
	if res.Committed {
		changed = !r.seen || r.safe != res.Safe
		r.safe = res.Safe
		r.seen = true
	}
	r.mu.Unlock()

	fields := map[string]any{
		"safe":        res.Safe,
		"distance_cm": uint(res.Distance),
		"known":       res.Known,
		"committed":   res.Committed,
	}
	switch {
	case errors.Is(res.Err, safety.ErrLockTimeout):
		r.add(KindSafety, "flag busy, update skipped", fields)
	case !res.Known:
		fields["error"] = errString(res.Err)
		r.add(KindSafety, "no reading, unsafe", fields)
	case changed && res.Safe:
		r.add(KindSafety, "path clear", fields)
	case changed:
		r.add(KindSafety, "obstacle", fields)
	}
}

// ObserveCommand records every executed command.
func (r *Recorder) ObserveCommand(res drive.Result) {
	fields := map[string]any{
		"id":       res.ID,
		"command":  res.Command.String(),
		"outcome":  res.Outcome.String(),
		"queued":   res.Started.Sub(res.Enqueued).String(),
		"duration": res.Finished.Sub(res.Started).String(),
	}
	if res.Err != nil {
		fields["error"] = res.Err.Error()
	}
	r.add(KindCommand, res.Command.String()+" "+res.Outcome.String(), fields)
}

// ObserveRequest records command channel connections.
func (r *Recorder) ObserveRequest(req remote.Request) {
	r.mu.Lock()
	r.requests++
	if !req.Matched {
		r.unmatched++
	}
	r.mu.Unlock()

	fields := map[string]any{"peer": req.Peer, "matched": req.Matched}
	msg := "request without command"
	if req.Matched {
		fields["command"] = req.Command.String()
		fields["id"] = req.ID
		msg = "queued " + req.Command.String()
	}
	if req.Err != nil {
		fields["error"] = req.Err.Error()
	}
	r.add(KindRequest, msg, fields)
}

func (r *Recorder) add(kind Kind, msg string, fields map[string]any) {
	r.mu.Lock()
	r.seq++
	ev := Event{Seq: r.seq, Time: time.Now(), Kind: kind, Message: msg, Fields: fields}
	r.events = append(r.events, ev)
	if len(r.events) > r.backlog {
		r.events = r.events[1:]
	}
	r.mu.Unlock()

	if r.hub != nil {
		r.hub.BroadcastJSON(ev)
	}
}

// Events returns the kept events with Seq greater than since, oldest first.
func (r *Recorder) Events(since uint64) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, 0, len(r.events))
	for _, ev := range r.events {
		if ev.Seq > since {
			out = append(out, ev)
		}
	}
	return out
}

// Status returns the current snapshot.
func (r *Recorder) Status() Status {
	r.mu.RLock()
	st := Status{
		BootID:        r.bootID,
		Started:       r.started,
		Uptime:        time.Since(r.started).Round(time.Second).String(),
		Safe:          r.safe,
		DistanceCM:    r.distance,
		DistanceKnown: r.known,
		LastCycle:     r.lastCycle,
		Requests:      r.requests,
		Unmatched:     r.unmatched,
	}
	r.mu.RUnlock()

	if r.src.Monitor != nil {
		st.Monitor = r.src.Monitor.Stats()
	}
	if r.src.Actuator != nil {
		st.Actuator = r.src.Actuator.Stats()
	}
	if r.src.Queue != nil {
		st.QueueDepth = r.src.Queue.Len()
		st.QueueCapacity = r.src.Queue.Cap()
	}
	if r.hub != nil {
		st.Clients = r.hub.ClientCount()
	}
	return st
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
