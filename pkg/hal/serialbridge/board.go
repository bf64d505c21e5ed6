package serialbridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-rover/pkg/hal"
)

// Board hands out bridge pins. It implements hal.Board.
type Board struct {
	bridge *Bridge

	mu      sync.Mutex
	claimed map[int]bool
	closed  bool
}

var _ hal.Board = (*Board)(nil)

// NewBoard returns a board on b. Closing the board closes b.
func NewBoard(b *Bridge) *Board {
	return &Board{bridge: b, claimed: make(map[int]bool)}
}

func (bd *Board) claim(num int) error {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	name := pinName(num)
	switch {
	case bd.closed || num < 0:
		return hal.WrapPinError(name, "claim", hal.ErrPinUnavailable)
	case bd.claimed[num]:
		return hal.WrapPinError(name, "claim", hal.ErrPinInUse)
	}
	bd.claimed[num] = true
	return nil
}

func (bd *Board) release(num int) {
	bd.mu.Lock()
	delete(bd.claimed, num)
	bd.mu.Unlock()
}

// Output configures num as an output driven low.
func (bd *Board) Output(num int) (hal.OutputPin, error) {
	if err := bd.claim(num); err != nil {
		return nil, err
	}
	ctx := context.Background()
	p := &Pin{num: num, bridge: bd.bridge}
	if err := bd.bridge.expectOK(ctx, fmt.Sprintf("MODE %d OUT", num)); err != nil {
		bd.release(num)
		return nil, hal.WrapPinError(p.Name(), "mode", err)
	}
	if err := p.Set(hal.Low); err != nil {
		bd.release(num)
		return nil, err
	}
	return p, nil
}

// Input configures num as an input. The returned pin also implements
// hal.EchoTimer.
func (bd *Board) Input(num int) (hal.InputPin, error) {
	if err := bd.claim(num); err != nil {
		return nil, err
	}
	p := &Pin{num: num, bridge: bd.bridge}
	if err := bd.bridge.expectOK(context.Background(), fmt.Sprintf("MODE %d IN", num)); err != nil {
		bd.release(num)
		return nil, hal.WrapPinError(p.Name(), "mode", err)
	}
	return p, nil
}

// Close closes the bridge.
func (bd *Board) Close() error {
	bd.mu.Lock()
	bd.closed = true
	bd.mu.Unlock()
	return bd.bridge.Close()
}

// Pin is one firmware pin.
type Pin struct {
	num    int
	bridge *Bridge
}

var (
	_ hal.OutputPin   = (*Pin)(nil)
	_ hal.InputPin    = (*Pin)(nil)
	_ hal.EchoTimer   = (*Pin)(nil)
	_ hal.Joiner      = (*Pin)(nil)
)

func pinName(num int) string {
	return "D" + strconv.Itoa(num)
}

// Name returns the firmware pin name.
func (p *Pin) Name() string {
	return pinName(p.num)
}

// Set drives the pin.
func (p *Pin) Set(l hal.Level) error {
	v := 0
	if l {
		v = 1
	}
	err := p.bridge.expectOK(context.Background(), fmt.Sprintf("SET %d %d", p.num, v))
	return hal.WrapPinError(p.Name(), "set", err)
}

// Get reads the pin.
func (p *Pin) Get() (hal.Level, error) {
	req := fmt.Sprintf("GET %d", p.num)
	reply, err := p.bridge.request(context.Background(), req, p.bridge.timeout)
	if err != nil {
		return hal.Low, hal.WrapPinError(p.Name(), "get", err)
	}
	switch reply {
	case "0":
		return hal.Low, nil
	case "1":
		return hal.High, nil
	}
	return hal.Low, hal.WrapPinError(p.Name(), "get", &ReplyError{Request: req, Reply: reply})
}

// Join returns an output that switches p and others with one SETN. It
// reports false if any of others is not a pin on the same bridge.
func (p *Pin) Join(others ...hal.OutputPin) (hal.OutputPin, bool) {
	g := group{bridge: p.bridge, nums: []int{p.num}}
	for _, o := range others {
		op, ok := o.(*Pin)
		if !ok || op.bridge != p.bridge {
			return nil, false
		}
		g.nums = append(g.nums, op.num)
	}
	return g, true
}

// TimeEcho has the firmware pulse trigger and time the echo on p. The
// firmware bounds each edge wait by timeout, so the reply can take up to
// pulse plus twice that.
func (p *Pin) TimeEcho(ctx context.Context, trigger hal.OutputPin, pulse, timeout time.Duration) (time.Duration, error) {
	trig, ok := trigger.(*Pin)
	if !ok || trig.bridge != p.bridge {
		return 0, hal.WrapPinError(p.Name(), "echo", fmt.Errorf("trigger %s is not on this bridge", trigger.Name()))
	}
	req := fmt.Sprintf("ECHO %d %d %d %d", trig.num, p.num, pulse.Microseconds(), timeout.Microseconds())
	reply, err := p.bridge.request(ctx, req, pulse+2*timeout+p.bridge.timeout)
	if err != nil {
		return 0, hal.WrapPinError(p.Name(), "echo", err)
	}
	if reply == "TIMEOUT" {
		return 0, hal.WrapPinError(p.Name(), "echo", hal.ErrNoPulse)
	}
	us, perr := strconv.ParseUint(reply, 10, 32)
	if perr != nil {
		return 0, hal.WrapPinError(p.Name(), "echo", &ReplyError{Request: req, Reply: reply})
	}
	return time.Duration(us) * time.Microsecond, nil
}

// group is several pins switched by one SETN.
type group struct {
	bridge *Bridge
	nums   []int
}

func (g group) Name() string {
	names := make([]string, len(g.nums))
	for i, n := range g.nums {
		names[i] = pinName(n)
	}
	return strings.Join(names, "+")
}

func (g group) Set(l hal.Level) error {
	v := 0
	if l {
		v = 1
	}
	var sb strings.Builder
	sb.WriteString("SETN")
	for _, n := range g.nums {
		fmt.Fprintf(&sb, " %d=%d", n, v)
	}
	return hal.WrapPinError(g.Name(), "set", g.bridge.expectOK(context.Background(), sb.String()))
}
