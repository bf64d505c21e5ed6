package serialbridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/hal"
)

// firmware answers bridge requests over one end of a pipe. Replies to
// delayed verbs are sent from their own goroutine, so later requests are
// served meanwhile.
type firmware struct {
	conn net.Conn
	wmu  sync.Mutex

	mu     sync.Mutex
	seen   []string
	levels map[int]int
	echoes []string
	silent map[string]bool
	delay  map[string][]time.Duration
}

func (f *firmware) serve() {
	sc := bufio.NewScanner(f.conn)
	for sc.Scan() {
		seq, req, _ := strings.Cut(sc.Text(), " ")
		f.mu.Lock()
		f.seen = append(f.seen, req)
		reply := f.answer(req)
		verb, _, _ := strings.Cut(req, " ")
		var wait time.Duration
		if d := f.delay[verb]; len(d) > 0 {
			wait, f.delay[verb] = d[0], d[1:]
		}
		f.mu.Unlock()

		if reply == "" {
			continue
		}
		if wait > 0 {
			go func() {
				time.Sleep(wait)
				f.reply(seq, reply)
			}()
			continue
		}
		f.reply(seq, reply)
	}
}

func (f *firmware) reply(seq, reply string) {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	fmt.Fprintf(f.conn, "%s %s\r\n", seq, reply)
}

func (f *firmware) answer(req string) string {
	fields := strings.Fields(req)
	verb := fields[0]
	if f.silent[verb] {
		return ""
	}
	var pin, v int
	if len(fields) > 1 {
		fmt.Sscan(fields[1], &pin)
	}
	if len(fields) > 2 {
		fmt.Sscan(fields[2], &v)
	}
	switch verb {
	case "PING":
		return "PONG"
	case "MODE":
		if pin > 40 {
			return "ERR no such pin"
		}
		return "OK"
	case "SET":
		f.levels[pin] = v
		return "OK"
	case "SETN":
		for _, kv := range fields[1:] {
			fmt.Sscanf(kv, "%d=%d", &pin, &v)
			f.levels[pin] = v
		}
		return "OK"
	case "GET":
		return fmt.Sprint(f.levels[pin])
	case "ECHO":
		if len(f.echoes) == 0 {
			return "TIMEOUT"
		}
		r := f.echoes[0]
		if len(f.echoes) > 1 {
			f.echoes = f.echoes[1:]
		}
		return r
	}
	return "ERR unknown"
}

func (f *firmware) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func (f *firmware) set(fn func(f *firmware)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newTestBoard(t *testing.T) (*Board, *firmware) {
	t.Helper()
	host, dev := net.Pipe()
	fw := &firmware{
		conn:   dev,
		levels: map[int]int{},
		echoes: []string{"1740"},
		silent: map[string]bool{},
		delay:  map[string][]time.Duration{},
	}
	go fw.serve()

	b := New(host, 100*time.Millisecond, log.Discard())
	if err := b.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	bd := NewBoard(b)
	t.Cleanup(func() {
		bd.Close()
		dev.Close()
	})
	return bd, fw
}

func TestBoard_OutputSetsModeAndLow(t *testing.T) {
	bd, fw := newTestBoard(t)

	p, err := bd.Output(14)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Set(hal.High); err != nil {
		t.Fatal(err)
	}

	want := []string{"PING", "MODE 14 OUT", "SET 14 0", "SET 14 1"}
	got := fw.requests()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("requests = %q, want %q", got, want)
	}
	if p.Name() != "D14" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestBridge_TagsEveryRequest(t *testing.T) {
	host, dev := net.Pipe()
	defer dev.Close()
	b := New(host, 100*time.Millisecond, log.Discard())
	defer b.Close()

	lines := make(chan string, 2)
	go func() {
		sc := bufio.NewScanner(dev)
		for sc.Scan() {
			lines <- sc.Text()
			seq, _, _ := strings.Cut(sc.Text(), " ")
			fmt.Fprintf(dev, "%s PONG\n", seq)
		}
	}()

	for i := 1; i <= 2; i++ {
		if err := b.Ping(context.Background()); err != nil {
			t.Fatal(err)
		}
		if got, want := <-lines, fmt.Sprintf("%d PING", i); got != want {
			t.Errorf("wire line = %q, want %q", got, want)
		}
	}
}

func TestBoard_InputGet(t *testing.T) {
	bd, fw := newTestBoard(t)
	in, err := bd.Input(1)
	if err != nil {
		t.Fatal(err)
	}

	fw.set(func(f *firmware) { f.levels[1] = 1 })

	l, err := in.Get()
	if err != nil || l != hal.High {
		t.Errorf("Get() = %v, %v", l, err)
	}
}

func TestBoard_ClaimRules(t *testing.T) {
	bd, _ := newTestBoard(t)
	if _, err := bd.Output(3); err != nil {
		t.Fatal(err)
	}
	if _, err := bd.Input(3); !errors.Is(err, hal.ErrPinInUse) {
		t.Errorf("second claim: %v", err)
	}

	_, err := bd.Output(99)
	var re *ReplyError
	if !errors.As(err, &re) || !strings.HasPrefix(re.Reply, "ERR") {
		t.Errorf("rejected MODE: %v", err)
	}
	// A failed claim frees the pin number again.
	if _, err := bd.Output(99); !errors.As(err, &re) {
		t.Errorf("retry should reach the firmware, got %v", err)
	}
}

func TestPin_TimeEcho(t *testing.T) {
	bd, fw := newTestBoard(t)
	trig, _ := bd.Output(0)
	in, _ := bd.Input(1)
	et := in.(hal.EchoTimer)

	w, err := et.TimeEcho(context.Background(), trig, 10*time.Microsecond, 40*time.Millisecond)
	if err != nil || w != 1740*time.Microsecond {
		t.Fatalf("TimeEcho = %v, %v", w, err)
	}
	reqs := fw.requests()
	if reqs[len(reqs)-1] != "ECHO 0 1 10 40000" {
		t.Errorf("request = %q", reqs[len(reqs)-1])
	}

	fw.set(func(f *firmware) { f.echoes = []string{"TIMEOUT"} })
	if _, err := et.TimeEcho(context.Background(), trig, 10*time.Microsecond, time.Millisecond); !errors.Is(err, hal.ErrNoPulse) {
		t.Errorf("TIMEOUT reply: %v", err)
	}

	fw.set(func(f *firmware) { f.echoes = []string{"garbage"} })
	var re *ReplyError
	if _, err := et.TimeEcho(context.Background(), trig, 10*time.Microsecond, time.Millisecond); !errors.As(err, &re) {
		t.Errorf("bad reply: %v", err)
	}
}

func TestPin_TimeEchoForeignTrigger(t *testing.T) {
	bd, _ := newTestBoard(t)
	other, _ := newTestBoard(t)
	trig, _ := other.Output(0)
	in, _ := bd.Input(1)

	if _, err := in.(hal.EchoTimer).TimeEcho(context.Background(), trig, 10*time.Microsecond, time.Millisecond); err == nil {
		t.Error("trigger on another bridge accepted")
	}
}

func TestPin_TimeEchoIgnoresLateReply(t *testing.T) {
	bd, fw := newTestBoard(t)
	trig, _ := bd.Output(0)
	in, _ := bd.Input(1)
	et := in.(hal.EchoTimer)

	// The first answer (30cm) only arrives after its wait has expired; the
	// second request must get its own answer (10cm), not the stale one.
	fw.set(func(f *firmware) {
		f.echoes = []string{"1740", "580"}
		f.delay["ECHO"] = []time.Duration{150 * time.Millisecond, 200 * time.Millisecond}
	})
	timeout := time.Millisecond
	if _, err := et.TimeEcho(context.Background(), trig, 10*time.Microsecond, timeout); !errors.Is(err, ErrTimeout) {
		t.Fatalf("first TimeEcho: %v, want ErrTimeout", err)
	}

	bd.bridge.timeout = 300 * time.Millisecond
	w, err := et.TimeEcho(context.Background(), trig, 10*time.Microsecond, timeout)
	if err != nil {
		t.Fatal(err)
	}
	if w != 580*time.Microsecond {
		t.Errorf("TimeEcho = %v, want 580µs", w)
	}
}

func TestJoin_SwitchesPairInOneRequest(t *testing.T) {
	bd, fw := newTestBoard(t)
	rf, _ := bd.Output(14)
	lf, _ := bd.Output(16)

	pair := hal.Join(rf, lf)
	if pair.Name() != "D14+D16" {
		t.Errorf("Name() = %q", pair.Name())
	}
	if err := pair.Set(hal.High); err != nil {
		t.Fatal(err)
	}
	reqs := fw.requests()
	if last := reqs[len(reqs)-1]; last != "SETN 14=1 16=1" {
		t.Errorf("request = %q", last)
	}
	fw.set(func(f *firmware) {
		if f.levels[14] != 1 || f.levels[16] != 1 {
			t.Errorf("levels = %v", f.levels)
		}
	})
}

func TestJoin_NotBlockedByEchoInFlight(t *testing.T) {
	bd, fw := newTestBoard(t)
	trig, _ := bd.Output(0)
	in, _ := bd.Input(1)
	rf, _ := bd.Output(14)
	lf, _ := bd.Output(16)
	pair := hal.Join(rf, lf)

	fw.set(func(f *firmware) { f.delay["ECHO"] = []time.Duration{80 * time.Millisecond} })
	echoed := make(chan error, 1)
	go func() {
		_, err := in.(hal.EchoTimer).TimeEcho(context.Background(), trig, 10*time.Microsecond, 40*time.Millisecond)
		echoed <- err
	}()

	// Let the ECHO reach the firmware before driving the motors.
	deadline := time.Now().Add(time.Second)
	for !strings.HasPrefix(fw.requests()[len(fw.requests())-1], "ECHO") {
		if time.Now().After(deadline) {
			t.Fatal("ECHO never sent")
		}
		time.Sleep(time.Millisecond)
	}

	start := time.Now()
	if err := pair.Set(hal.High); err != nil {
		t.Fatal(err)
	}
	if err := pair.Set(hal.Low); err != nil {
		t.Fatal(err)
	}
	if held := time.Since(start); held > 40*time.Millisecond {
		t.Errorf("pair switching waited %v behind the echo", held)
	}
	select {
	case err := <-echoed:
		t.Errorf("echo finished before the pair was switched: %v", err)
	default:
	}
	if err := <-echoed; err != nil {
		t.Errorf("TimeEcho: %v", err)
	}
}

func TestBridge_TimeoutThenRecovers(t *testing.T) {
	bd, fw := newTestBoard(t)
	out, _ := bd.Output(5)

	fw.set(func(f *firmware) { f.silent["SET"] = true })
	if err := out.Set(hal.High); !errors.Is(err, ErrTimeout) {
		t.Fatalf("silent firmware: %v", err)
	}

	fw.set(func(f *firmware) { f.silent["SET"] = false })
	if err := out.Set(hal.Low); err != nil {
		t.Errorf("bridge did not recover: %v", err)
	}
}

func TestBridge_ClosedLine(t *testing.T) {
	host, dev := net.Pipe()
	b := New(host, 50*time.Millisecond, log.Discard())
	dev.Close()

	err := b.Ping(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Ping on dead line: %v", err)
	}
	b.Close()
	if err := b.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping after Close: %v", err)
	}
}
