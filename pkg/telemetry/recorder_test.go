package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-rover/pkg/command"
	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/remote"
	"github.com/teslashibe/go-rover/pkg/safety"
	"github.com/teslashibe/go-rover/pkg/sensor"
)

type fakeStats struct{}

func (fakeStats) Stats() safety.Stats { return safety.Stats{Cycles: 7, Commits: 6} }

func cycle(cm uint, safe, known, committed bool, err error) safety.CycleResult {
	return safety.CycleResult{
		At:        time.Now(),
		Distance:  sensor.Distance(cm),
		Known:     known,
		Safe:      safe,
		Committed: committed,
		Err:       err,
	}
}

func TestRecorder_SafetyTransitionsOnly(t *testing.T) {
	r := NewRecorder(nil, Sources{}, 0)

	r.ObserveCycle(cycle(30, true, true, true, nil))
	r.ObserveCycle(cycle(31, true, true, true, nil))
	r.ObserveCycle(cycle(20, false, true, true, nil))
	r.ObserveCycle(cycle(21, false, true, true, nil))
	r.ObserveCycle(cycle(26, true, true, true, nil))

	evs := r.Events(0)
	want := []string{"path clear", "obstacle", "path clear"}
	if len(evs) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(evs), len(want), evs)
	}
	for i, w := range want {
		if evs[i].Kind != KindSafety || evs[i].Message != w {
			t.Errorf("event %d = %s/%q, want safety/%q", i, evs[i].Kind, evs[i].Message, w)
		}
		if evs[i].Seq != uint64(i+1) {
			t.Errorf("event %d seq = %d", i, evs[i].Seq)
		}
	}

	st := r.Status()
	if !st.Safe || st.DistanceCM != 26 || !st.DistanceKnown {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestRecorder_FailuresAlwaysRecorded(t *testing.T) {
	r := NewRecorder(nil, Sources{}, 0)

	r.ObserveCycle(cycle(0, false, false, true, sensor.ErrNoReading))
	r.ObserveCycle(cycle(40, true, true, false, safety.ErrLockTimeout))

	evs := r.Events(0)
	if len(evs) != 2 {
		t.Fatalf("got %d events", len(evs))
	}
	if evs[0].Fields["error"] != sensor.ErrNoReading.Error() {
		t.Errorf("missing error field: %+v", evs[0])
	}
	// The skipped update must not change the reported flag.
	if r.Status().Safe {
		t.Error("status followed an uncommitted cycle")
	}
}

func TestRecorder_CommandsAndRequests(t *testing.T) {
	q := command.NewQueue(4)
	r := NewRecorder(nil, Sources{Monitor: fakeStats{}, Queue: q}, 0)

	env := command.NewEnvelope(command.Forward)
	r.ObserveRequest(remote.Request{Peer: "10.0.0.2:5000", Command: command.Forward, Matched: true, ID: env.ID})
	r.ObserveRequest(remote.Request{Peer: "10.0.0.2:5001"})
	r.ObserveCommand(drive.Result{
		Envelope: env,
		Outcome:  drive.OutcomeBlocked,
		Started:  env.Enqueued,
		Finished: env.Enqueued,
	})

	evs := r.Events(0)
	if len(evs) != 3 {
		t.Fatalf("got %d events", len(evs))
	}
	if evs[0].Message != "queued forward" || evs[1].Message != "request without command" {
		t.Errorf("unexpected request events %+v", evs[:2])
	}
	if evs[2].Kind != KindCommand || evs[2].Fields["outcome"] != "blocked" || evs[2].Fields["id"] != env.ID {
		t.Errorf("unexpected command event %+v", evs[2])
	}

	st := r.Status()
	if st.Requests != 2 || st.Unmatched != 1 {
		t.Errorf("request counters %d/%d", st.Requests, st.Unmatched)
	}
	if st.Monitor.Cycles != 7 || st.QueueCapacity != 4 {
		t.Errorf("sources not consulted: %+v", st)
	}
	if st.BootID == "" || st.BootID != r.BootID() {
		t.Error("boot id missing")
	}
}

func TestRecorder_BacklogAndSince(t *testing.T) {
	r := NewRecorder(nil, Sources{}, 3)
	for i := 0; i < 5; i++ {
		r.ObserveCommand(drive.Result{Envelope: command.NewEnvelope(command.TurnLeft), Err: errors.New("x")})
	}

	evs := r.Events(0)
	if len(evs) != 3 || evs[0].Seq != 3 || evs[2].Seq != 5 {
		t.Fatalf("ring kept %+v", evs)
	}
	if got := r.Events(4); len(got) != 1 || got[0].Seq != 5 {
		t.Errorf("Events(4) = %+v", got)
	}
}
